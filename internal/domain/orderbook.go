package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel groups all same-priced orders of one side.
// It is rebuilt from scratch on every refresh cycle.
type PriceLevel struct {
	Price         decimal.Decimal `json:"price"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	Orders        []Order         `json:"orders"` // Arrival order
}

// OrderCount returns the number of constituent orders.
func (l *PriceLevel) OrderCount() int {
	return len(l.Orders)
}

// Notional returns price * total quantity.
func (l *PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.TotalQuantity)
}

// OrdersByTime returns the constituents ordered by creation time for display.
// Orders without a timestamp keep their arrival position after timestamped ones.
func (l *PriceLevel) OrdersByTime() []Order {
	out := make([]Order, len(l.Orders))
	copy(out, l.Orders)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.Before(b)
	})
	return out
}

// MarketStatistics holds top-of-book figures.
// Nil pointers mean "undefined": a side is empty or the division is impossible.
type MarketStatistics struct {
	BestBid       *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk       *decimal.Decimal `json:"best_ask,omitempty"`
	Spread        *decimal.Decimal `json:"spread,omitempty"`         // BestAsk - BestBid, may be negative
	SpreadPercent *decimal.Decimal `json:"spread_percent,omitempty"` // Spread / BestBid * 100
	MidPrice      *decimal.Decimal `json:"mid_price,omitempty"`
}

// HasSpread reports whether both sides are populated.
func (m *MarketStatistics) HasSpread() bool {
	return m.Spread != nil
}

// IsCrossed reports whether the best bid is above the best ask.
func (m *MarketStatistics) IsCrossed() bool {
	return m.Spread != nil && m.Spread.IsNegative()
}

// DepthPoint is one price point of the cumulative depth curve.
// BidDepth and AskDepth are independent series and are never summed.
type DepthPoint struct {
	Price     decimal.Decimal `json:"price"`
	BidVolume decimal.Decimal `json:"bid_volume"`
	AskVolume decimal.Decimal `json:"ask_volume"`
	BidDepth  decimal.Decimal `json:"bid_depth"`
	AskDepth  decimal.Decimal `json:"ask_depth"`
}

// BookStats are the summary counts of a snapshot.
type BookStats struct {
	TotalOrders int `json:"total_orders"` // Records received, including dropped ones
	BidCount    int `json:"bid_count"`
	AskCount    int `json:"ask_count"`
	Dropped     int `json:"dropped"`  // Malformed, unknown side or quantity <= 0
	Filtered    int `json:"filtered"` // Excluded by symbol or status filter
}

// OrderBookSnapshot is the materialized view published after a successful cycle.
// Consumers must treat it as read-only.
type OrderBookSnapshot struct {
	Seq        uint64           `json:"seq"`
	Symbol     string           `json:"symbol,omitempty"`
	FetchedAt  time.Time        `json:"fetched_at"`
	Bids       []PriceLevel     `json:"bids"` // Descending, best bid first
	Asks       []PriceLevel     `json:"asks"` // Ascending, best ask first
	Statistics MarketStatistics `json:"statistics"`
	Depth      []DepthPoint     `json:"depth"`
	Stats      BookStats        `json:"stats"`
	BidVolume  decimal.Decimal  `json:"bid_volume"`
	AskVolume  decimal.Decimal  `json:"ask_volume"`
}

// IsEmpty reports whether neither side has any level.
func (s *OrderBookSnapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}
