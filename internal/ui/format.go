package ui

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// quantityPlaces is the fraction precision shown for quantities and totals.
const quantityPlaces = 3

// FormatPrice renders a price as "$x.xx".
func FormatPrice(price decimal.Decimal) string {
	return FormatPriceN(price, 2)
}

// FormatPriceN renders a price with a fixed number of decimals.
func FormatPriceN(price decimal.Decimal, places int32) string {
	if price.IsNegative() {
		return "-$" + price.Neg().StringFixed(places)
	}
	return "$" + price.StringFixed(places)
}

// FormatQuantity renders a quantity with thousands separators and at most
// three fraction digits, trailing zeros trimmed ("1,234.5").
func FormatQuantity(qty decimal.Decimal) string {
	r := qty.Round(quantityPlaces)

	sign := ""
	if r.IsNegative() {
		sign = "-"
		r = r.Neg()
	}

	intPart := r.Truncate(0)
	out := humanize.Comma(intPart.IntPart())

	if frac := r.Sub(intPart); !frac.IsZero() {
		// "0.125" -> ".125"
		out += strings.TrimPrefix(frac.String(), "0")
	}
	return sign + out
}

// FormatTotal renders a notional value as a grouped dollar amount.
func FormatTotal(total decimal.Decimal) string {
	if total.IsNegative() {
		return "-$" + FormatQuantity(total.Neg())
	}
	return "$" + FormatQuantity(total)
}

// FormatPercent renders an optional percentage, "-" when undefined.
func FormatPercent(p *decimal.Decimal) string {
	if p == nil {
		return "-"
	}
	return p.StringFixed(2) + "%"
}

// FormatOptionalPrice renders an optional price, "-" when undefined.
func FormatOptionalPrice(p *decimal.Decimal, places int32) string {
	if p == nil {
		return "-"
	}
	return FormatPriceN(*p, places)
}
