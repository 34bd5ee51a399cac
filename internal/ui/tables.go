package ui

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"orderbook_go/internal/domain"
)

// RenderOrders writes orders as a table.
func RenderOrders(w io.Writer, orders []domain.Order) error {
	if len(orders) == 0 {
		_, err := fmt.Fprintln(w, "No orders.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tPRICE\tQUANTITY\tTOTAL\tSTATUS\tCREATED")
	for _, o := range orders {
		price := FormatPrice(o.Price)
		if o.IsMarket() {
			price = "MARKET"
		}
		created := "-"
		if !o.CreatedAt.IsZero() {
			created = o.CreatedAt.Local().Format(time.DateTime)
		}
		status := o.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Symbol, o.Side, price,
			FormatQuantity(o.Quantity), FormatTotal(o.Notional()),
			status, created,
		)
	}
	return tw.Flush()
}

// RenderBalances writes balances sorted by asset.
func RenderBalances(w io.Writer, book domain.BalanceBook) error {
	if len(book) == 0 {
		_, err := fmt.Fprintln(w, "No balances.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tAVAILABLE\tLOCKED\tTOTAL")
	for _, asset := range book.Assets() {
		b := book[asset]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			asset, FormatQuantity(b.Available), FormatQuantity(b.Locked), FormatQuantity(b.Total()))
	}
	return tw.Flush()
}
