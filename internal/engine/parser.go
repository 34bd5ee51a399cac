package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderbook_go/internal/domain"

	"github.com/shopspring/decimal"
)

// wireOrder accepts the field spellings seen across backend endpoints.
type wireOrder struct {
	ID        json.RawMessage  `json:"id"`
	OrderID   json.RawMessage  `json:"order_id"`
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	Price     *decimal.Decimal `json:"price"`
	Quantity  *decimal.Decimal `json:"quantity"`
	Qty       *decimal.Decimal `json:"qty"`
	Status    string           `json:"status"`
	CreatedAt json.RawMessage  `json:"created_at"`
	CreatedTs json.RawMessage  `json:"createdAt"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseOrder decodes a single raw record.
// Side is normalized ("" when unrecognized) and symbol upper-cased; quantity
// is not checked here because exclusion happens during classification.
func ParseOrder(raw json.RawMessage) (domain.Order, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecord, err)
	}

	id := rawID(w.ID)
	if id == "" {
		id = rawID(w.OrderID)
	}
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: missing id", domain.ErrInvalidRecord)
	}

	order := domain.Order{
		ID:     id,
		Symbol: strings.ToUpper(strings.TrimSpace(w.Symbol)),
		Side:   domain.NormalizeSide(w.Side),
		Status: strings.ToUpper(strings.TrimSpace(w.Status)),
	}

	if w.Price != nil {
		if w.Price.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: negative price %s", domain.ErrInvalidRecord, w.Price)
		}
		order.Price = *w.Price
	}

	switch {
	case w.Quantity != nil:
		order.Quantity = *w.Quantity
	case w.Qty != nil:
		order.Quantity = *w.Qty
	}

	for _, ts := range []json.RawMessage{w.CreatedAt, w.CreatedTs, w.Timestamp} {
		if t, ok := parseTime(ts); ok {
			order.CreatedAt = t
			break
		}
	}

	return order, nil
}

// ParseOrders decodes a batch, dropping records that fail to decode.
func ParseOrders(raw []json.RawMessage) (orders []domain.Order, dropped int) {
	orders = make([]domain.Order, 0, len(raw))
	for _, r := range raw {
		o, err := ParseOrder(r)
		if err != nil {
			dropped++
			continue
		}
		orders = append(orders, o)
	}
	return orders, dropped
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

func parseTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	// Millisecond timestamps are 13 digits today
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
