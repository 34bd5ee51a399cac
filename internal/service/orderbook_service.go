package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
)

// DefaultPollInterval is the refresh cadence while the service is active.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start on an active service.
	ErrAlreadyRunning = errors.New("order book service already running")

	// ErrFetchInFlight is returned by SyncOnce while another cycle is outstanding.
	ErrFetchInFlight = errors.New("fetch already in flight")
)

// SyncState is the synchronizer state shown to consumers.
type SyncState string

const (
	StateIdle    SyncState = "idle"
	StateLoading SyncState = "loading"
	StateReady   SyncState = "ready"
	StateErrored SyncState = "errored"
)

// OrderBookView is everything the presentation layer renders.
// Snapshot is the last successful one and survives later failures.
type OrderBookView struct {
	Snapshot  *domain.OrderBookSnapshot `json:"snapshot,omitempty"`
	State     SyncState                 `json:"state"`
	Loading   bool                      `json:"loading"`
	Error     string                    `json:"error,omitempty"`
	ErrorKind domain.ErrorKind          `json:"error_kind,omitempty"`
	Connected bool                      `json:"connected"`
	HasData   bool                      `json:"has_data"`
	UpdatedAt time.Time                 `json:"updated_at,omitempty"`
}

// Options configures an OrderBookService.
type Options struct {
	Interval time.Duration
	Book     engine.Options
	Recorder domain.FetchRecorder // optional
}

// OrderBookService polls an OrderSource and publishes materialized snapshots.
//
// At most one fetch per generation is in flight. Stop cancels the timer but
// not an outstanding fetch; its result is discarded when it arrives, and a
// later Start fetches immediately without waiting for it.
type OrderBookService struct {
	source   domain.OrderSource
	interval time.Duration
	book     engine.Options
	recorder domain.FetchRecorder
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	state      SyncState
	snapshot   *domain.OrderBookSnapshot
	lastErr    error
	loading    bool
	connected  bool
	inFlight   bool
	active     bool
	generation uint64
	seq        uint64
	updatedAt  time.Time
	runCtx     context.Context
	listeners  map[int]func(OrderBookView)
	nextID     int

	cancel context.CancelFunc
	wg     sync.WaitGroup // poll loop
	cycles sync.WaitGroup // outstanding fetches
}

// NewOrderBookService creates an idle service.
func NewOrderBookService(source domain.OrderSource, opts Options) *OrderBookService {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &OrderBookService{
		source:    source,
		interval:  interval,
		book:      opts.Book,
		recorder:  opts.Recorder,
		now:       time.Now,
		logger:    slog.Default().With("module", "orderbook_service"),
		state:     StateIdle,
		loading:   true,
		listeners: make(map[int]func(OrderBookView)),
	}
}

// Start triggers an immediate fetch, then one per interval until Stop.
func (s *OrderBookService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.active = true
	s.generation++
	s.runCtx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Order book polling started", "interval", s.interval, "symbol", s.book.Symbol)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Order book polling panic recovered", slog.Any("panic", r))
			}
		}()

		s.trigger()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.trigger()
			}
		}
	}()

	return nil
}

// Stop cancels the poll timer. Results of a fetch still outstanding are
// never applied.
func (s *OrderBookService) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.generation++
	// an outstanding fetch now belongs to a dead generation
	s.inFlight = false
	s.loading = false
	s.state = s.settledStateLocked()
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Order book polling stopped")
}

// Refresh requests an immediate cycle. It returns false when no new fetch
// was started because one is already in flight or the service is stopped.
// The loading indicator is raised either way while active.
func (s *OrderBookService) Refresh() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.loading = true
	s.mu.Unlock()

	return s.trigger()
}

// SyncOnce runs one cycle synchronously, whether or not the service is
// started, and returns the resulting view. The error is the cycle's fetch
// error, if any.
func (s *OrderBookService) SyncOnce(ctx context.Context) (OrderBookView, error) {
	s.mu.Lock()
	if s.inFlight {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, ErrFetchInFlight
	}
	gen := s.begin()
	s.mu.Unlock()

	s.cycles.Add(1)
	err := s.runCycle(ctx, gen, false)
	return s.View(), err
}

// View returns the current presentation state.
func (s *OrderBookService) View() OrderBookView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Snapshot returns the last successful snapshot, or nil.
func (s *OrderBookService) Snapshot() *domain.OrderBookSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Subscribe registers fn to be called after every applied cycle.
// The returned func unregisters it.
func (s *OrderBookService) Subscribe(fn func(OrderBookView)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// trigger starts an asynchronous cycle unless one is outstanding.
func (s *OrderBookService) trigger() bool {
	s.mu.Lock()
	if !s.active || s.inFlight {
		s.mu.Unlock()
		return false
	}
	gen := s.begin()
	ctx := context.WithoutCancel(s.runCtx)
	s.mu.Unlock()

	s.cycles.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Order book fetch panic recovered", slog.Any("panic", r))
			}
		}()
		s.runCycle(ctx, gen, true)
	}()
	return true
}

// begin marks a cycle in flight. Must be called with lock held.
func (s *OrderBookService) begin() uint64 {
	s.inFlight = true
	s.loading = true
	s.state = StateLoading
	return s.generation
}

// runCycle fetches, materializes and applies one batch.
func (s *OrderBookService) runCycle(ctx context.Context, gen uint64, requireActive bool) error {
	defer s.cycles.Done()

	started := s.now()
	raw, err := s.fetch(ctx)
	fetchedAt := s.now()

	var snap *domain.OrderBookSnapshot
	if err == nil {
		snap = engine.Materialize(raw, s.book, fetchedAt)
	}

	s.apply(gen, requireActive, snap, err, fetchedAt.Sub(started))
	return err
}

func (s *OrderBookService) fetch(ctx context.Context) (raw []json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.APIError{Kind: domain.KindFormat, Op: "fetch orders", Message: "order source failed"}
			s.logger.Error("Order source panic recovered", slog.Any("panic", r))
		}
	}()
	return s.source.FetchOrders(ctx)
}

// apply publishes a cycle's outcome unless it went stale.
func (s *OrderBookService) apply(gen uint64, requireActive bool, snap *domain.OrderBookSnapshot, err error, latency time.Duration) {
	s.mu.Lock()
	if gen != s.generation || (requireActive && !s.active) {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale order book result", "generation", gen)
		return
	}

	s.inFlight = false
	s.loading = false
	if err != nil {
		// previous snapshot stays visible
		s.lastErr = err
		s.connected = false
		s.state = StateErrored
	} else {
		s.seq++
		snap.Seq = s.seq
		s.snapshot = snap
		s.lastErr = nil
		s.connected = true
		s.state = StateReady
		s.updatedAt = snap.FetchedAt
	}

	view := s.viewLocked()
	listeners := make([]func(OrderBookView), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Order book refresh failed", "kind", domain.KindOf(err), "error", err)
	} else {
		s.logger.Debug("Order book refreshed",
			"seq", snap.Seq,
			"bids", len(snap.Bids),
			"asks", len(snap.Asks),
			"dropped", snap.Stats.Dropped,
			"latency", latency,
		)
	}

	if s.recorder != nil {
		s.recorder.RecordFetch(latency.Nanoseconds(), err)
		if snap != nil {
			s.recorder.RecordDropped(snap.Stats.Dropped)
			s.recorder.RecordSnapshot(snap)
		}
		s.recorder.SetConnected(err == nil)
	}

	for _, fn := range listeners {
		fn(view)
	}
}

// settledStateLocked is the state to show when no cycle is outstanding.
func (s *OrderBookService) settledStateLocked() SyncState {
	switch {
	case s.lastErr != nil:
		return StateErrored
	case s.snapshot != nil:
		return StateReady
	default:
		return StateIdle
	}
}

func (s *OrderBookService) viewLocked() OrderBookView {
	return OrderBookView{
		Snapshot:  s.snapshot,
		State:     s.state,
		Loading:   s.loading,
		Error:     domain.UserMessage(s.lastErr),
		ErrorKind: domain.KindOf(s.lastErr),
		Connected: s.connected,
		HasData:   s.snapshot != nil,
		UpdatedAt: s.updatedAt,
	}
}
