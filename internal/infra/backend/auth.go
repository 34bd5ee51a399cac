package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"orderbook_go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time // zero when the backend gave no expiry
	User      domain.User
}

type wireUser struct {
	ID       json.RawMessage `json:"id"`
	Email    string          `json:"email"`
	Username string          `json:"username"`
}

func (w wireUser) toDomain() domain.User {
	return domain.User{
		ID:       strings.Trim(strings.TrimSpace(string(w.ID)), `"`),
		Email:    w.Email,
		Username: w.Username,
	}
}

// Login exchanges credentials for a bearer token and installs it in the session.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	const op = "login"
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domain.NewValidationError(op, "email and password are required")
	}

	body, err := c.do(ctx, op, http.MethodPost, "/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var wire struct {
		Token     string   `json:"token"`
		ExpiresIn *float64 `json:"expiresIn"`
		User      wireUser `json:"user"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &domain.APIError{Kind: domain.KindFormat, Op: op, Message: "malformed login response", Err: err}
	}
	if wire.Token == "" {
		return nil, domain.NewFormatError(op, "no token received from server")
	}

	result := &LoginResult{
		Token:     wire.Token,
		ExpiresAt: c.tokenExpiry(wire.Token, wire.ExpiresIn),
		User:      wire.User.toDomain(),
	}
	if err := c.session.Set(result.Token, result.ExpiresAt, result.User); err != nil {
		c.logger.Warn("Failed to persist session", "error", err)
	}

	c.logger.Info("Logged in", "user", result.User.Email, "expires_at", result.ExpiresAt)
	return result, nil
}

// tokenExpiry prefers the explicit expiresIn and falls back to the token's
// own exp claim. The signature is not verified: the backend is the authority
// and the value only drives local expiry.
func (c *Client) tokenExpiry(token string, expiresIn *float64) time.Time {
	if expiresIn != nil && *expiresIn > 0 {
		return c.now().Add(time.Duration(*expiresIn * float64(time.Second)))
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (Ack, error) {
	const op = "register"
	if err := req.Validate(); err != nil {
		return Ack{}, err
	}

	body, err := c.do(ctx, op, http.MethodPost, "/register", req)
	if err != nil {
		return Ack{}, err
	}
	return decodeAck(body, "Registration successful"), nil
}

// Logout clears the local session. The backend keeps no session state.
func (c *Client) Logout() error {
	return c.session.Clear()
}
