package infra

import (
	"net/http"
	"time"

	"orderbook_go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes refresh-cycle observability in Prometheus format.
// Each instance owns its registry so tests never collide on global state.
type Metrics struct {
	registry *prometheus.Registry

	fetches   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	dropped   prometheus.Counter
	latency   prometheus.Histogram
	levels    *prometheus.GaugeVec
	orders    prometheus.Gauge
	connected prometheus.Gauge
	circuit   prometheus.Gauge
	feedConns prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderbook",
			Name:      "fetches_total",
			Help:      "Refresh cycles by result.",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderbook",
			Name:      "fetch_errors_total",
			Help:      "Failed refresh cycles by error kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orderbook",
			Name:      "dropped_orders_total",
			Help:      "Order records excluded from aggregation.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orderbook",
			Name:      "fetch_duration_seconds",
			Help:      "Order fetch latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		levels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orderbook",
			Name:      "price_levels",
			Help:      "Price levels in the latest snapshot.",
		}, []string{"side"}),
		orders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orderbook",
			Name:      "orders",
			Help:      "Orders received in the latest snapshot.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orderbook",
			Name:      "connected",
			Help:      "1 when the last refresh cycle succeeded.",
		}),
		circuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orderbook",
			Name:      "circuit_open",
			Help:      "1 when the backend circuit breaker is open.",
		}),
		feedConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orderbook",
			Name:      "feed_connections",
			Help:      "Active websocket feed clients.",
		}),
	}

	m.registry.MustRegister(
		m.fetches, m.errors, m.dropped, m.latency,
		m.levels, m.orders, m.connected, m.circuit, m.feedConns,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetch records one completed fetch with its latency.
func (m *Metrics) RecordFetch(latencyNs int64, err error) {
	m.latency.Observe(time.Duration(latencyNs).Seconds())
	if err != nil {
		m.fetches.WithLabelValues("error").Inc()
		kind := string(domain.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		m.errors.WithLabelValues(kind).Inc()
		return
	}
	m.fetches.WithLabelValues("ok").Inc()
}

// RecordDropped adds to the dropped-record counter.
func (m *Metrics) RecordDropped(n int) {
	if n > 0 {
		m.dropped.Add(float64(n))
	}
}

// RecordSnapshot updates the book gauges from a published snapshot.
func (m *Metrics) RecordSnapshot(snap *domain.OrderBookSnapshot) {
	if snap == nil {
		return
	}
	m.levels.WithLabelValues("bid").Set(float64(len(snap.Bids)))
	m.levels.WithLabelValues("ask").Set(float64(len(snap.Asks)))
	m.orders.Set(float64(snap.Stats.TotalOrders))
}

// SetConnected sets the connection indicator gauge.
func (m *Metrics) SetConnected(connected bool) {
	m.connected.Set(boolToFloat(connected))
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	m.circuit.Set(boolToFloat(open))
}

// IncrementConnections increments active feed clients by 1.
func (m *Metrics) IncrementConnections() {
	m.feedConns.Inc()
}

// DecrementConnections decrements active feed clients by 1.
func (m *Metrics) DecrementConnections() {
	m.feedConns.Dec()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
