package engine

import (
	"sort"

	"orderbook_go/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeStatistics derives top-of-book figures from best-first ladders.
// A crossed book yields a negative spread; it is reported, not rejected.
func ComputeStatistics(bids, asks []domain.PriceLevel) domain.MarketStatistics {
	var stats domain.MarketStatistics

	if len(bids) > 0 {
		bestBid := bids[0].Price
		stats.BestBid = &bestBid
	}
	if len(asks) > 0 {
		bestAsk := asks[0].Price
		stats.BestAsk = &bestAsk
	}
	if stats.BestBid == nil || stats.BestAsk == nil {
		return stats
	}

	spread := stats.BestAsk.Sub(*stats.BestBid)
	stats.Spread = &spread

	mid := stats.BestAsk.Add(*stats.BestBid).Div(decimal.NewFromInt(2))
	stats.MidPrice = &mid

	if stats.BestBid.IsPositive() {
		pct := spread.Div(*stats.BestBid).Mul(hundred)
		stats.SpreadPercent = &pct
	}

	return stats
}

// DepthCurve builds the cumulative depth series merged on price, ascending.
// Bid depth accumulates downward from the best bid and ask depth upward from
// the best ask. A price present on both sides (crossed book) carries both
// values in one point; they are never added together.
func DepthCurve(bids, asks []domain.PriceLevel) []domain.DepthPoint {
	points := make(map[string]*domain.DepthPoint, len(bids)+len(asks))
	point := func(price decimal.Decimal) *domain.DepthPoint {
		key := PriceKey(price)
		p, ok := points[key]
		if !ok {
			p = &domain.DepthPoint{
				Price:     price,
				BidVolume: decimal.Zero,
				AskVolume: decimal.Zero,
				BidDepth:  decimal.Zero,
				AskDepth:  decimal.Zero,
			}
			points[key] = p
		}
		return p
	}

	cum := decimal.Zero
	for _, l := range bids {
		cum = cum.Add(l.TotalQuantity)
		p := point(l.Price)
		p.BidVolume = l.TotalQuantity
		p.BidDepth = cum
	}

	cum = decimal.Zero
	for _, l := range asks {
		cum = cum.Add(l.TotalQuantity)
		p := point(l.Price)
		p.AskVolume = l.TotalQuantity
		p.AskDepth = cum
	}

	curve := make([]domain.DepthPoint, 0, len(points))
	for _, p := range points {
		curve = append(curve, *p)
	}
	sort.Slice(curve, func(i, j int) bool {
		return curve[i].Price.LessThan(curve[j].Price)
	})
	return curve
}
