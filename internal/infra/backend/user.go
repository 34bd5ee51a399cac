package backend

import (
	"context"
	"encoding/json"
	"strings"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"

	"github.com/shopspring/decimal"
)

// UserOrders lists the logged-in user's orders.
// An unexpected response shape yields an empty list.
func (c *Client) UserOrders(ctx context.Context) ([]domain.Order, error) {
	const op = "user orders"
	body, err := c.getJSON(ctx, op, "/user/orders")
	if err != nil {
		return nil, err
	}

	var wire struct {
		Success bool              `json:"success"`
		Orders  []json.RawMessage `json:"orders"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || !wire.Success || wire.Orders == nil {
		c.logger.Warn("Unexpected response format", "op", op)
		return []domain.Order{}, nil
	}

	orders, dropped := engine.ParseOrders(wire.Orders)
	if dropped > 0 {
		c.logger.Debug("Dropped malformed user orders", "count", dropped)
	}
	return orders, nil
}

// UserBalances lists the logged-in user's balances keyed by asset.
// An unexpected response shape yields an empty book.
func (c *Client) UserBalances(ctx context.Context) (domain.BalanceBook, error) {
	const op = "user balances"
	body, err := c.getJSON(ctx, op, "/user/balances")
	if err != nil {
		return nil, err
	}

	var wire struct {
		Success  bool `json:"success"`
		Balances map[string]struct {
			Available decimal.Decimal `json:"available"`
			Locked    decimal.Decimal `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || !wire.Success || wire.Balances == nil {
		c.logger.Warn("Unexpected response format", "op", op)
		return domain.BalanceBook{}, nil
	}

	book := make(domain.BalanceBook, len(wire.Balances))
	for asset, b := range wire.Balances {
		key := strings.ToUpper(asset)
		book[key] = domain.Balance{Asset: key, Available: b.Available, Locked: b.Locked}
	}
	return book, nil
}
