package engine

import (
	"encoding/json"
	"strings"
	"time"

	"orderbook_go/internal/domain"
)

// Options tune how a batch is turned into a snapshot.
type Options struct {
	Symbol    string // Keep only this instrument ("" = all)
	OpenOnly  bool   // Exclude terminal statuses (FILLED, CANCELLED, ...)
	MaxLevels int    // Truncate each displayed side after statistics (0 = unlimited)
}

// Materialize runs the full pipeline on one raw batch:
// parse -> filter -> classify/sort -> group -> statistics/depth.
// It never fails; malformed records are counted in Stats.Dropped.
func Materialize(raw []json.RawMessage, opts Options, fetchedAt time.Time) *domain.OrderBookSnapshot {
	orders, dropped := ParseOrders(raw)

	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	filtered := 0
	kept := orders[:0]
	for _, o := range orders {
		if symbol != "" && o.Symbol != symbol {
			filtered++
			continue
		}
		if opts.OpenOnly && !o.IsOpen() {
			filtered++
			continue
		}
		kept = append(kept, o)
	}

	sides := SeparateBySide(kept)
	bids := GroupByPrice(sides.Bids)
	asks := GroupByPrice(sides.Asks)

	snap := &domain.OrderBookSnapshot{
		Symbol:     symbol,
		FetchedAt:  fetchedAt,
		Statistics: ComputeStatistics(bids, asks),
		Depth:      DepthCurve(bids, asks),
		BidVolume:  TotalVolume(bids),
		AskVolume:  TotalVolume(asks),
		Stats: domain.BookStats{
			TotalOrders: len(raw),
			BidCount:    len(sides.Bids),
			AskCount:    len(sides.Asks),
			Dropped:     dropped + sides.Dropped,
			Filtered:    filtered,
		},
		Bids: truncate(bids, opts.MaxLevels),
		Asks: truncate(asks, opts.MaxLevels),
	}
	return snap
}

func truncate(levels []domain.PriceLevel, max int) []domain.PriceLevel {
	if max > 0 && len(levels) > max {
		return levels[:max]
	}
	return levels
}
