package engine

import (
	"sort"

	"orderbook_go/internal/domain"
)

// Sides is the result of splitting a batch by side.
type Sides struct {
	Bids    []domain.Order // Descending by price, best bid first
	Asks    []domain.Order // Ascending by price, best ask first
	Dropped int            // Unrecognized side or non-positive quantity
}

// SeparateBySide splits orders into bids and asks and sorts each best-first.
// Orders with an unrecognized side or a quantity <= 0 are dropped silently.
// Equal prices keep their arrival order.
func SeparateBySide(orders []domain.Order) Sides {
	var s Sides
	for _, o := range orders {
		if !o.Quantity.IsPositive() {
			s.Dropped++
			continue
		}
		o.Side = domain.NormalizeSide(o.Side)
		switch {
		case o.IsBuy():
			s.Bids = append(s.Bids, o)
		case o.IsSell():
			s.Asks = append(s.Asks, o)
		default:
			s.Dropped++
		}
	}

	sort.SliceStable(s.Bids, func(i, j int) bool {
		return s.Bids[i].Price.GreaterThan(s.Bids[j].Price)
	})
	sort.SliceStable(s.Asks, func(i, j int) bool {
		return s.Asks[i].Price.LessThan(s.Asks[j].Price)
	})

	return s
}
