package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
)

// Ack is the acknowledgement returned by mutating order endpoints.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// orderPayload is the wire body of place and amend requests.
// Numbers are sent unquoted.
type orderPayload struct {
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Quantity  json.Number `json:"quantity"`
	Price     json.Number `json:"price"`
	OrderType string      `json:"order_type,omitempty"`
}

func newOrderPayload(req domain.OrderRequest) orderPayload {
	n := req.Normalized()
	return orderPayload{
		Symbol:    n.Symbol,
		Side:      n.Side,
		Quantity:  json.Number(n.Quantity.String()),
		Price:     json.Number(n.Price.String()), // 0 for market orders
		OrderType: n.OrderType,
	}
}

// FetchOrders retrieves the full order set.
func (c *Client) FetchOrders(ctx context.Context) ([]json.RawMessage, error) {
	body, err := c.getJSON(ctx, "fetch orders", "/orders")
	if err != nil {
		return nil, err
	}
	return engine.Normalize(body)
}

// OrderBookBySymbol retrieves the orders of one instrument.
func (c *Client) OrderBookBySymbol(ctx context.Context, symbol string) ([]json.RawMessage, error) {
	const op = "fetch order book"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.NewValidationError(op, "symbol is required")
	}

	body, err := c.getJSON(ctx, op, "/orderbook/"+url.PathEscape(symbol))
	if err != nil {
		return nil, err
	}
	return engine.Normalize(body)
}

// GetOrder retrieves one order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	const op = "get order"
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, domain.NewValidationError(op, "order id is required")
	}

	body, err := c.getJSON(ctx, op, "/orders/"+url.PathEscape(id))
	if err != nil {
		return domain.Order{}, err
	}
	records, err := engine.Normalize(body)
	if err != nil {
		return domain.Order{}, err
	}
	if len(records) == 0 {
		return domain.Order{}, &domain.APIError{Kind: domain.KindNotFound, Op: op, Message: "order not found"}
	}

	order, err := engine.ParseOrder(records[0])
	if err != nil {
		return domain.Order{}, &domain.APIError{Kind: domain.KindFormat, Op: op, Message: "malformed order record", Err: err}
	}
	return order, nil
}

// PlaceOrder validates and submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (Ack, error) {
	const op = "place order"
	if err := req.Validate(); err != nil {
		return Ack{}, err
	}

	body, err := c.do(ctx, op, http.MethodPost, "/orders", newOrderPayload(req))
	if err != nil {
		return Ack{}, err
	}
	c.logger.Info("Order placed", "symbol", strings.ToUpper(req.Symbol), "side", strings.ToUpper(req.Side))
	return decodeAck(body, "Order placed successfully"), nil
}

// UpdateOrder amends an existing order.
func (c *Client) UpdateOrder(ctx context.Context, id string, req domain.OrderRequest) (Ack, error) {
	const op = "update order"
	id = strings.TrimSpace(id)
	if id == "" {
		return Ack{}, domain.NewValidationError(op, "order id is required")
	}
	if err := req.Validate(); err != nil {
		return Ack{}, err
	}

	body, err := c.do(ctx, op, http.MethodPut, "/orders/"+url.PathEscape(id), newOrderPayload(req))
	if err != nil {
		return Ack{}, err
	}
	return decodeAck(body, "Order updated successfully"), nil
}

// CancelOrder removes an order.
func (c *Client) CancelOrder(ctx context.Context, id string) (Ack, error) {
	const op = "cancel order"
	id = strings.TrimSpace(id)
	if id == "" {
		return Ack{}, domain.NewValidationError(op, "order id is required")
	}

	body, err := c.do(ctx, op, http.MethodDelete, "/orders/"+url.PathEscape(id), nil)
	if err != nil {
		return Ack{}, err
	}
	return decodeAck(body, "Order cancelled successfully"), nil
}

// decodeAck reads {success, message}. A body without a success field
// (including 201/204 with no body) is a success with the given message.
func decodeAck(body []byte, fallback string) Ack {
	ok := Ack{Success: true, Message: fallback}
	if len(bytes.TrimSpace(body)) == 0 {
		return ok
	}

	var wire struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Success == nil {
		return ok
	}

	ack := Ack{Success: *wire.Success, Message: wire.Message}
	switch {
	case ack.Message != "":
	case ack.Success:
		ack.Message = fallback
	default:
		ack.Message = "request was not successful"
	}
	return ack
}

// Source returns the OrderSource polled for one symbol, or for all orders
// when symbol is empty.
func (c *Client) Source(symbol string) domain.OrderSource {
	if strings.TrimSpace(symbol) == "" {
		return domain.OrderSourceFunc(c.FetchOrders)
	}
	return domain.OrderSourceFunc(func(ctx context.Context) ([]json.RawMessage, error) {
		return c.OrderBookBySymbol(ctx, symbol)
	})
}
