package app

import (
	"log/slog"
	"strings"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
	"orderbook_go/internal/infra"
	"orderbook_go/internal/infra/backend"
	"orderbook_go/internal/infra/storage"
	"orderbook_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Session *domain.Session
	Metrics *infra.Metrics
	Client  *backend.Client
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger, storage,
// session restore and the backend client. With quiet set, logs go to the
// rotated file only so stdout stays free for command output.
func (b *Bootstrap) Initialize(configPath string, quiet bool) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	if quiet {
		logger = infra.NewQuietLogger(cfg)
	}
	slog.SetDefault(logger)
	slog.Info("Bootstrapping order book client", "version", cfg.App.Version, "api", cfg.API.BaseURL)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Debug("Database initialized")

	// 4. Restore Session
	b.Session = domain.NewSession(store)
	if err := b.Session.Restore(); err != nil {
		slog.Warn("Failed to restore session, continuing anonymously", "error", err)
	}

	// 5. Metrics & Transport
	b.Metrics = infra.NewMetrics()
	b.Client = backend.NewClient(cfg, b.Session, backend.WithCircuitObserver(b.Metrics.SetCircuitState))

	return nil
}

// NewOrderBookService wires a synchronizer for symbol ("" = all orders).
func (b *Bootstrap) NewOrderBookService(symbol string, openOnly bool) *service.OrderBookService {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return service.NewOrderBookService(b.Client.Source(symbol), service.Options{
		Interval: b.Config.PollInterval(),
		Book: engine.Options{
			Symbol:    symbol,
			OpenOnly:  openOnly,
			MaxLevels: b.Config.UI.MaxLevels,
		},
		Recorder: b.Metrics,
	})
}

// Close releases resources opened by Initialize.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
