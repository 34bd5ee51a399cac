package domain

import (
	"context"
	"encoding/json"
)

// OrderSource yields one raw order batch per call.
// The batch is already unwrapped from its response envelope.
type OrderSource interface {
	FetchOrders(ctx context.Context) ([]json.RawMessage, error)
}

// OrderSourceFunc adapts a function to OrderSource.
type OrderSourceFunc func(ctx context.Context) ([]json.RawMessage, error)

func (f OrderSourceFunc) FetchOrders(ctx context.Context) ([]json.RawMessage, error) {
	return f(ctx)
}

// FetchRecorder observes fetch cycles (metrics).
type FetchRecorder interface {
	RecordFetch(latencyNs int64, err error)
	RecordDropped(n int)
	RecordSnapshot(snap *OrderBookSnapshot)
	SetConnected(connected bool)
}
