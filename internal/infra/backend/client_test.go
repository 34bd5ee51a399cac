package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"orderbook_go/internal/domain"
	"orderbook_go/internal/infra"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

type testBackend struct {
	cfg     *infra.Config
	client  *Client
	session *domain.Session
	hits    *atomic.Int32
	server  *httptest.Server
}

func newTestBackend(t *testing.T, handler http.HandlerFunc, mutate ...func(*infra.Config)) *testBackend {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := infra.DefaultConfig()
	cfg.API.BaseURL = srv.URL
	cfg.API.RatePerSec = 0
	for _, m := range mutate {
		m(cfg)
	}

	session := domain.NewSession(nil)
	return &testBackend{
		cfg:     cfg,
		client:  NewClient(cfg, session),
		session: session,
		hits:    &hits,
		server:  srv,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestFetchOrders(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":1,"side":"buy","price":1,"quantity":1},{"id":2,"side":"sell","price":2,"quantity":1}]`, 2},
		{"orders envelope", `{"orders":[{"id":1,"side":"buy","price":1,"quantity":1}]}`, 1},
		{"data envelope", `{"data":[]}`, 0},
		{"single object", `{"id":1,"side":"buy","price":1,"quantity":1}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/orders" || r.Method != http.MethodGet {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				writeJSON(w, http.StatusOK, tt.body)
			})

			records, err := b.client.FetchOrders(context.Background())
			if err != nil {
				t.Fatalf("FetchOrders failed: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}

	t.Run("unrecognized payload", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"unexpected":1}`)
		})
		_, err := b.client.FetchOrders(context.Background())
		if !domain.IsKind(err, domain.KindFormat) {
			t.Errorf("expected FormatError, got %v", err)
		}
	})
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotReqID string
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, `[]`)
	})

	if _, err := b.client.FetchOrders(context.Background()); err != nil {
		t.Fatalf("FetchOrders failed: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("anonymous request sent Authorization %q", gotAuth)
	}
	if gotReqID == "" {
		t.Error("missing X-Request-ID")
	}

	_ = b.session.Set("secret", time.Time{}, domain.User{})
	if _, err := b.client.FetchOrders(context.Background()); err != nil {
		t.Fatalf("FetchOrders failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    domain.ErrorKind
		message string
	}{
		{"bad request carries body error", http.StatusBadRequest, `{"error":"Cannot cancel a filled order"}`, domain.KindValidation, "Cannot cancel a filled order"},
		{"forbidden", http.StatusForbidden, ``, domain.KindAuthorization, "not permitted"},
		{"not found", http.StatusNotFound, ``, domain.KindNotFound, "not found"},
		{"server error", http.StatusInternalServerError, `{"message":"db down"}`, domain.KindServer, "db down"},
		{"bad gateway", http.StatusBadGateway, ``, domain.KindServer, "backend error"},
		{"other status", http.StatusTeapot, ``, domain.KindHTTP, "unexpected status 418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := b.client.CancelOrder(context.Background(), "42")
			var ae *domain.APIError
			if !errors.As(err, &ae) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if ae.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", ae.Kind, tt.kind)
			}
			if ae.Status != tt.status {
				t.Errorf("Status = %d, want %d", ae.Status, tt.status)
			}
			if ae.Message != tt.message {
				t.Errorf("Message = %q, want %q", ae.Message, tt.message)
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	unauthorized := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{}`)
	}

	t.Run("order endpoint keeps session", func(t *testing.T) {
		b := newTestBackend(t, unauthorized)
		_ = b.session.Set("tok", time.Time{}, domain.User{ID: "1"})

		_, err := b.client.CancelOrder(context.Background(), "7")
		var ae *domain.APIError
		if !errors.As(err, &ae) || ae.Kind != domain.KindAuthorization || ae.Status != http.StatusUnauthorized {
			t.Fatalf("expected AuthorizationError with status 401, got %v", err)
		}
		if b.session.Token() != "tok" {
			t.Error("session must survive a 401 on an order endpoint")
		}
	})

	t.Run("user endpoint tears session down", func(t *testing.T) {
		b := newTestBackend(t, unauthorized)
		_ = b.session.Set("tok", time.Time{}, domain.User{ID: "1"})

		_, err := b.client.UserOrders(context.Background())
		if !domain.IsKind(err, domain.KindSessionExpired) {
			t.Fatalf("expected SessionExpiredError, got %v", err)
		}
		if b.session.IsAuthenticated() {
			t.Error("session should be cleared")
		}
	})

	t.Run("order book endpoint tears session down", func(t *testing.T) {
		b := newTestBackend(t, unauthorized)
		_ = b.session.Set("tok", time.Time{}, domain.User{})

		_, err := b.client.OrderBookBySymbol(context.Background(), "btcusd")
		if !domain.IsKind(err, domain.KindSessionExpired) {
			t.Fatalf("expected SessionExpiredError, got %v", err)
		}
	})
}

func TestTransportErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := b.client.FetchOrders(ctx)
		if !domain.IsKind(err, domain.KindTimeout) {
			t.Fatalf("expected TimeoutError, got %v", err)
		}
		if !domain.IsRetriable(err) {
			t.Error("timeouts should be retriable")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
		b.server.Close()

		_, err := b.client.FetchOrders(context.Background())
		if !domain.IsKind(err, domain.KindNetwork) {
			t.Fatalf("expected NetworkError, got %v", err)
		}
		if domain.UserMessage(err) != "backend unreachable" {
			t.Errorf("UserMessage = %q", domain.UserMessage(err))
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, ``)
	}, func(cfg *infra.Config) {
		cfg.API.BreakerFailures = 2
	})

	var opened atomic.Bool
	b.client = NewClient(b.cfg, b.session, WithCircuitObserver(func(open bool) {
		opened.Store(open)
	}))

	for i := 0; i < 2; i++ {
		if _, err := b.client.FetchOrders(context.Background()); !domain.IsKind(err, domain.KindServer) {
			t.Fatalf("call %d: expected ServerError, got %v", i, err)
		}
	}

	_, err := b.client.FetchOrders(context.Background())
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if !domain.IsKind(err, domain.KindNetwork) {
		t.Errorf("open circuit should surface as NetworkError, got %v", err)
	}
	if got := b.hits.Load(); got != 2 {
		t.Errorf("backend hit %d times, want 2", got)
	}
	if !opened.Load() {
		t.Error("circuit observer not notified")
	}
}

func TestCircuitIgnoresClientErrors(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ``)
	}, func(cfg *infra.Config) {
		cfg.API.BreakerFailures = 1
	})

	for i := 0; i < 3; i++ {
		_, err := b.client.GetOrder(context.Background(), "9")
		if !domain.IsKind(err, domain.KindNotFound) {
			t.Fatalf("call %d: expected NotFoundError, got %v", i, err)
		}
	}
	if got := b.hits.Load(); got != 3 {
		t.Errorf("backend hit %d times, want 3", got)
	}
}

func TestPlaceOrder(t *testing.T) {
	t.Run("validation happens before send", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, ``)
		})

		req := domain.OrderRequest{Symbol: "BTCUSD", Side: "buy", Quantity: decimal.Zero}
		_, err := b.client.PlaceOrder(context.Background(), req)
		if !domain.IsKind(err, domain.KindValidation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if b.hits.Load() != 0 {
			t.Error("invalid order must not reach the backend")
		}
	})

	t.Run("market order payload", func(t *testing.T) {
		var payload map[string]json.RawMessage
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/orders" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		})

		req := domain.OrderRequest{
			Symbol:    "btcusd",
			Side:      "sell",
			Quantity:  decimal.RequireFromString("1.5"),
			OrderType: "market",
		}
		ack, err := b.client.PlaceOrder(context.Background(), req)
		if err != nil {
			t.Fatalf("PlaceOrder failed: %v", err)
		}
		if !ack.Success || ack.Message != "Order placed successfully" {
			t.Errorf("Ack = %+v", ack)
		}

		want := map[string]string{
			"symbol":     `"BTCUSD"`,
			"side":       `"SELL"`,
			"quantity":   `1.5`,
			"price":      `0`,
			"order_type": `"MARKET"`,
		}
		for k, v := range want {
			if string(payload[k]) != v {
				t.Errorf("payload[%s] = %s, want %s", k, payload[k], v)
			}
		}
	})
}

func TestAcks(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Ack
	}{
		{"no content", http.StatusNoContent, ``, Ack{Success: true, Message: "Order cancelled successfully"}},
		{"explicit message", http.StatusOK, `{"success":true,"message":"Order 7 cancelled"}`, Ack{Success: true, Message: "Order 7 cancelled"}},
		{"body without success", http.StatusOK, `{"id":7}`, Ack{Success: true, Message: "Order cancelled successfully"}},
		{"explicit failure", http.StatusOK, `{"success":false}`, Ack{Success: false, Message: "request was not successful"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || r.URL.Path != "/orders/7" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			ack, err := b.client.CancelOrder(context.Background(), "7")
			if err != nil {
				t.Fatalf("CancelOrder failed: %v", err)
			}
			if ack != tt.want {
				t.Errorf("Ack = %+v, want %+v", ack, tt.want)
			}
		})
	}

	t.Run("update default", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		req := domain.OrderRequest{Symbol: "BTCUSD", Side: "BUY", Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(100)}
		ack, err := b.client.UpdateOrder(context.Background(), "7", req)
		if err != nil {
			t.Fatalf("UpdateOrder failed: %v", err)
		}
		if ack.Message != "Order updated successfully" {
			t.Errorf("Ack = %+v", ack)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
		if _, err := b.client.CancelOrder(context.Background(), " "); !domain.IsKind(err, domain.KindValidation) {
			t.Errorf("expected ValidationError, got %v", err)
		}
		if b.hits.Load() != 0 {
			t.Error("request without id must not be sent")
		}
	})
}

func TestGetOrder(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":7,"symbol":"btcusd","side":"buy","price":"100.50","quantity":2}`)
	})

	order, err := b.client.GetOrder(context.Background(), "7")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.ID != "7" || order.Symbol != "BTCUSD" || order.Side != domain.SideBuy {
		t.Errorf("order = %+v", order)
	}
	if !order.Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("price = %s", order.Price)
	}
}

func TestLogin(t *testing.T) {
	t.Run("expiresIn", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"email":"a@example.com"`) {
				t.Errorf("unexpected login body %s", body)
			}
			writeJSON(w, http.StatusOK, `{"token":"tok","expiresIn":3600,"user":{"id":5,"email":"a@example.com"}}`)
		})
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		b.client.now = func() time.Time { return now }

		res, err := b.client.Login(context.Background(), "a@example.com", "pw")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if !res.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Errorf("ExpiresAt = %v", res.ExpiresAt)
		}
		if res.User.ID != "5" {
			t.Errorf("User.ID = %q", res.User.ID)
		}
		if b.session.ExpiresAt() != res.ExpiresAt {
			t.Error("session expiry not installed")
		}
	})

	t.Run("jwt exp fallback", func(t *testing.T) {
		exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"token":"`+token+`","user":{"id":"u1"}}`)
		})

		res, err := b.client.Login(context.Background(), "a@example.com", "pw")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if !res.ExpiresAt.Equal(exp) {
			t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, exp)
		}
		if b.session.Token() != token {
			t.Error("session token not installed")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"user":{"id":1}}`)
		})
		_, err := b.client.Login(context.Background(), "a@example.com", "pw")
		if !domain.IsKind(err, domain.KindFormat) {
			t.Fatalf("expected FormatError, got %v", err)
		}
		if b.session.IsAuthenticated() {
			t.Error("session must stay anonymous")
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
		if _, err := b.client.Login(context.Background(), "", "pw"); !domain.IsKind(err, domain.KindValidation) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("logout", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})
		_ = b.session.Set("tok", time.Time{}, domain.User{})
		if err := b.client.Logout(); err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		if b.session.IsAuthenticated() {
			t.Error("Logout should clear session")
		}
	})
}

func TestRegister(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"success":true,"message":"User created"}`)
	})

	ack, err := b.client.Register(context.Background(), domain.RegisterRequest{Email: "a@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ack.Message != "User created" {
		t.Errorf("Ack = %+v", ack)
	}

	if _, err := b.client.Register(context.Background(), domain.RegisterRequest{Email: "nope"}); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if b.hits.Load() != 1 {
		t.Errorf("backend hit %d times, want 1", b.hits.Load())
	}
}

func TestUserEndpoints(t *testing.T) {
	t.Run("orders", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"success":true,"orders":[{"id":1,"side":"buy","price":1,"quantity":1},{"side":"sell"}]}`)
		})
		orders, err := b.client.UserOrders(context.Background())
		if err != nil {
			t.Fatalf("UserOrders failed: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("got %d orders, want 1 (record without id dropped)", len(orders))
		}
	})

	t.Run("orders unexpected shape", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `[1,2,3]`)
		})
		orders, err := b.client.UserOrders(context.Background())
		if err != nil || len(orders) != 0 {
			t.Errorf("expected empty result, got %v, %v", orders, err)
		}
	})

	t.Run("balances", func(t *testing.T) {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"success":true,"balances":{"btc":{"available":"0.5","locked":0.25},"USD":{"available":1000}}}`)
		})
		book, err := b.client.UserBalances(context.Background())
		if err != nil {
			t.Fatalf("UserBalances failed: %v", err)
		}
		btc, ok := book["BTC"]
		if !ok {
			t.Fatalf("missing BTC in %v", book)
		}
		if !btc.Total().Equal(decimal.RequireFromString("0.75")) {
			t.Errorf("BTC total = %s", btc.Total())
		}
		if !book["USD"].Locked.IsZero() {
			t.Errorf("USD locked = %s", book["USD"].Locked)
		}
	})
}

func TestSource(t *testing.T) {
	var paths []string
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, `[]`)
	})

	ctx := context.Background()
	if _, err := b.client.Source("").FetchOrders(ctx); err != nil {
		t.Fatalf("all-orders source failed: %v", err)
	}
	if _, err := b.client.Source("ethusd").FetchOrders(ctx); err != nil {
		t.Fatalf("symbol source failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/orders" || paths[1] != "/orderbook/ETHUSD" {
		t.Errorf("paths = %v", paths)
	}
}
