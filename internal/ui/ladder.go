package ui

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/service"
)

// LadderOptions controls ladder rendering.
type LadderOptions struct {
	PriceDecimals int32
	MaxLevels     int  // per side, 0 = all
	ShowOrders    bool // list each level's orders, oldest first
}

// RenderLadder writes the order book view as a text ladder: asks from the
// highest shown price down to the best ask, the spread line, then bids from
// the best bid down.
func RenderLadder(w io.Writer, v service.OrderBookView, opts LadderOptions) error {
	if opts.PriceDecimals <= 0 {
		opts.PriceDecimals = 2
	}

	if err := renderStatus(w, v); err != nil {
		return err
	}
	if !v.HasData {
		_, err := fmt.Fprintln(w, "No order book data yet.")
		return err
	}

	snap := v.Snapshot
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SIDE\tPRICE\tQUANTITY\tTOTAL\tORDERS\t")

	asks := limit(snap.Asks, opts.MaxLevels)
	for i := len(asks) - 1; i >= 0; i-- {
		writeLevel(tw, "ASK", asks[i], opts)
	}

	stats := snap.Statistics
	spread := "-"
	if stats.Spread != nil {
		spread = FormatPriceN(*stats.Spread, opts.PriceDecimals)
	}
	fmt.Fprintf(tw, "SPREAD\t%s\t%s\tMID %s\t\t\n",
		spread,
		FormatPercent(stats.SpreadPercent),
		FormatOptionalPrice(stats.MidPrice, opts.PriceDecimals),
	)

	for _, level := range limit(snap.Bids, opts.MaxLevels) {
		writeLevel(tw, "BID", level, opts)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "bids %d levels (%s) | asks %d levels (%s) | orders %d, dropped %d, filtered %d\n",
		len(snap.Bids), FormatQuantity(snap.BidVolume),
		len(snap.Asks), FormatQuantity(snap.AskVolume),
		snap.Stats.TotalOrders, snap.Stats.Dropped, snap.Stats.Filtered,
	)
	return err
}

func renderStatus(w io.Writer, v service.OrderBookView) error {
	symbol := "ALL"
	seq := "-"
	updated := "never"
	if v.Snapshot != nil {
		if v.Snapshot.Symbol != "" {
			symbol = v.Snapshot.Symbol
		}
		seq = strconv.FormatUint(v.Snapshot.Seq, 10)
	}
	if !v.UpdatedAt.IsZero() {
		updated = v.UpdatedAt.Local().Format(time.TimeOnly)
	}

	status := "connected"
	switch {
	case v.Error != "":
		status = "ERROR: " + v.Error
	case !v.Connected:
		status = "connecting"
	}
	if v.Loading {
		status += " (loading)"
	}

	_, err := fmt.Fprintf(w, "%s  seq %s  updated %s  %s\n", symbol, seq, updated, status)
	return err
}

func writeLevel(w io.Writer, side string, level domain.PriceLevel, opts LadderOptions) {
	price := FormatPriceN(level.Price, opts.PriceDecimals)
	if level.Price.IsZero() {
		price = "MARKET"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t\n",
		side,
		price,
		FormatQuantity(level.TotalQuantity),
		FormatTotal(level.Notional()),
		level.OrderCount(),
	)

	if !opts.ShowOrders {
		return
	}
	for _, o := range level.OrdersByTime() {
		created := "-"
		if !o.CreatedAt.IsZero() {
			created = o.CreatedAt.Local().Format(time.TimeOnly)
		}
		fmt.Fprintf(w, "\t#%s\t%s\t%s\t\t\n", o.ID, FormatQuantity(o.Quantity), created)
	}
}

func limit(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}
