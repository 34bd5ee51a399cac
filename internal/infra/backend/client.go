package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/infra"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	breakerOpenTimeout     = 15 * time.Second
	maxBodyBytes           = 8 << 20
)

// Client is the REST transport to the order backend.
// It attaches the session's bearer token, classifies every failure into a
// domain.APIError and never returns raw net/http errors.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	session    *domain.Session
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	onCircuit  func(open bool)
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCircuitObserver is notified on every breaker open/close transition.
func WithCircuitObserver(fn func(open bool)) Option {
	return func(c *Client) { c.onCircuit = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client. session may be nil for anonymous use.
func NewClient(cfg *infra.Config, session *domain.Session, opts ...Option) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if session == nil {
		session = domain.NewSession(nil)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.API.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		timeout: timeout,
		session: session,
		limiter: newLimiter(cfg.API.RatePerSec, cfg.API.Burst),
		now:     time.Now,
		logger:  slog.Default().With("module", "backend_client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	failures := cfg.API.BreakerFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		// Only transport-level and 5xx failures count against the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsRetriable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
			if c.onCircuit != nil {
				c.onCircuit(to == gobreaker.StateOpen)
			}
		},
	})

	return c
}

func newLimiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// Session returns the credential context used by this client.
func (c *Client) Session() *domain.Session {
	return c.session
}

type response struct {
	status int
	body   []byte
}

// do executes one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &domain.APIError{Kind: domain.KindValidation, Op: op, Message: "request could not be encoded", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &domain.APIError{Kind: domain.KindNetwork, Op: op, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, classifyTransportError(op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, classifyTransportError(op, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, c.classifyStatus(op, path, resp.StatusCode, data)
		}
		return response{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.APIError{
				Kind:    domain.KindNetwork,
				Op:      op,
				Message: "circuit open",
				Err:     fmt.Errorf("%w: %w", domain.ErrCircuitOpen, err),
			}
		}
		return nil, err
	}

	return out.(response).body, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string) ([]byte, error) {
	return c.do(ctx, op, http.MethodGet, path, nil)
}

// classifyStatus maps a non-2xx response to its error kind.
func (c *Client) classifyStatus(op, path string, status int, body []byte) error {
	msg := bodyMessage(body)
	withDefault := func(fallback string) string {
		if msg != "" {
			return msg
		}
		return fallback
	}

	switch {
	case status == http.StatusUnauthorized:
		if isOrderPath(path) {
			return &domain.APIError{Kind: domain.KindAuthorization, Op: op, Status: status, Message: withDefault("not authorized")}
		}
		if err := c.session.Clear(); err != nil {
			c.logger.Warn("Failed to clear persisted session", "error", err)
		}
		c.logger.Warn("Session expired, credentials cleared", "op", op, "path", path)
		return &domain.APIError{Kind: domain.KindSessionExpired, Op: op, Status: status, Message: withDefault("session expired, please log in again")}
	case status == http.StatusBadRequest:
		return &domain.APIError{Kind: domain.KindValidation, Op: op, Status: status, Message: withDefault("request rejected by backend")}
	case status == http.StatusForbidden:
		return &domain.APIError{Kind: domain.KindAuthorization, Op: op, Status: status, Message: withDefault("not permitted")}
	case status == http.StatusNotFound:
		return &domain.APIError{Kind: domain.KindNotFound, Op: op, Status: status, Message: withDefault("not found")}
	case status >= 500:
		return &domain.APIError{Kind: domain.KindServer, Op: op, Status: status, Message: withDefault("backend error")}
	default:
		return &domain.APIError{Kind: domain.KindHTTP, Op: op, Status: status, Message: withDefault(fmt.Sprintf("unexpected status %d", status))}
	}
}

// isOrderPath reports whether a 401 should be surfaced without tearing the
// session down: order operations, but not the user's own order listing.
func isOrderPath(path string) bool {
	return strings.Contains(path, "/orders") && !strings.Contains(path, "/user/orders")
}

// bodyMessage extracts {"error": ...} or {"message": ...} from an error body.
func bodyMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTimeoutError(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTimeoutError(op, err)
	}
	return domain.NewNetworkError(op, err)
}
