package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Balance represents one asset balance of the logged-in user.
type Balance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"` // Reserved for open orders
}

// Total returns available + locked.
func (b *Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// BalanceBook is the set of balances keyed by asset.
type BalanceBook map[string]Balance

// Assets returns asset names in sorted order for consistent display.
func (bb BalanceBook) Assets() []string {
	assets := make([]string, 0, len(bb))
	for asset := range bb {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}
