package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orderbook_go/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies this client to the backend
	DefaultUserAgent = "orderbook-go/1.0"

	DefaultConfigPath = "configs/config.yaml"
)

// Config holds every setting of the application.
// After LoadConfig reads the file, environment variables override sensitive values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		BaseURL         string  `yaml:"base_url"`
		TimeoutSec      int     `yaml:"timeout_sec"`
		RatePerSec      float64 `yaml:"rate_per_sec"`
		Burst           int     `yaml:"burst"`
		BreakerFailures int     `yaml:"breaker_failures"`
	} `yaml:"api"`

	Poll struct {
		IntervalSec int    `yaml:"interval_sec"`
		Symbol      string `yaml:"symbol"`
		OpenOnly    bool   `yaml:"open_only"`
	} `yaml:"poll"`

	Feed struct {
		Addr string `yaml:"addr"`
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	UI struct {
		PriceDecimals int `yaml:"price_decimals"`
		MaxLevels     int `yaml:"max_levels"`
	} `yaml:"ui"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in defaults that a config file may override.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "orderbook-go"
	cfg.App.Version = "dev"
	cfg.API.BaseURL = "http://localhost:5000"
	cfg.API.TimeoutSec = 10
	cfg.API.RatePerSec = 5
	cfg.API.Burst = 5
	cfg.API.BreakerFailures = 5
	cfg.Poll.IntervalSec = 5
	cfg.Feed.Addr = "localhost:8090"
	cfg.UI.PriceDecimals = 2
	cfg.UI.MaxLevels = 15
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads and parses the config file.
// A missing file is not fatal: defaults plus environment are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.API.BaseURL, "http://") && !hasPrefix(c.API.BaseURL, "https://") {
		return &domain.ConfigError{Field: "api.base_url", Err: fmt.Errorf("invalid URL: %q", c.API.BaseURL)}
	}
	if c.API.TimeoutSec <= 0 {
		return &domain.ConfigError{Field: "api.timeout_sec", Err: errors.New("timeout must be positive")}
	}
	if c.API.RatePerSec < 0 || c.API.Burst < 0 {
		return &domain.ConfigError{Field: "api.rate_per_sec", Err: errors.New("rate limit must not be negative")}
	}
	if c.Poll.IntervalSec <= 0 {
		return &domain.ConfigError{Field: "poll.interval_sec", Err: errors.New("poll interval must be positive")}
	}
	if c.UI.MaxLevels < 0 {
		return &domain.ConfigError{Field: "ui.max_levels", Err: errors.New("max levels must not be negative")}
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// PollInterval returns the refresh cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), prefix)
}

// overrideWithEnv overwrites config values when the environment variable exists.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("ORDERBOOK_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("ORDERBOOK_API_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.TimeoutSec = n
		}
	}
	if v := os.Getenv("ORDERBOOK_POLL_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poll.IntervalSec = n
		}
	}
	if v := os.Getenv("ORDERBOOK_SYMBOL"); v != "" {
		cfg.Poll.Symbol = v
	}
	if v := os.Getenv("ORDERBOOK_FEED_ADDR"); v != "" {
		cfg.Feed.Addr = v
	}
	if v := os.Getenv("ORDERBOOK_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ORDERBOOK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
