package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a single order record as received from the backend.
// Price and quantity are decimals so that level keys and sums stay exact.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`   // Upper-cased instrument (e.g., "BTCUSD")
	Side      string          `json:"side"`     // "BUY", "SELL" (empty when unrecognized)
	Price     decimal.Decimal `json:"price"`    // 0 for Market Order
	Quantity  decimal.Decimal `json:"quantity"` // Must be > 0 to enter aggregation
	Status    string          `json:"status,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"

	OrderStatusPending         = "PENDING"
	OrderStatusNew             = "NEW"
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// NormalizeSide case-folds a raw side value.
// Returns "" when the value is neither buy nor sell.
func NormalizeSide(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy
	case "sell":
		return SideSell
	default:
		return ""
	}
}

// IsBuy reports whether the order belongs to the bid side.
func (o *Order) IsBuy() bool {
	return o.Side == SideBuy
}

// IsSell reports whether the order belongs to the ask side.
func (o *Order) IsSell() bool {
	return o.Side == SideSell
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool {
	return o.Price.IsZero()
}

// IsOpen checks if the order is still resting on the book.
// Unknown or empty statuses are treated as open.
func (o *Order) IsOpen() bool {
	switch strings.ToUpper(o.Status) {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return false
	default:
		return true
	}
}

// Notional returns price * quantity.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}
