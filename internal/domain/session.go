package domain

import (
	"sync"
	"time"
)

// User is the account profile returned by the login endpoint.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// SessionData is the persisted form of a Session.
type SessionData struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// SessionStore persists session state between runs.
type SessionStore interface {
	SaveSession(data SessionData) error
	LoadSession() (*SessionData, error)
	ClearSession() error
}

// Session carries the bearer credential explicitly instead of reading it from
// ambient storage. It is shared by the transport and the login flow.
type Session struct {
	mu    sync.RWMutex
	data  SessionData
	store SessionStore
	now   func() time.Time
}

// NewSession creates an empty session. store may be nil.
func NewSession(store SessionStore) *Session {
	return &Session{store: store, now: time.Now}
}

// Restore loads a previously persisted session, if any.
func (s *Session) Restore() error {
	if s.store == nil {
		return nil
	}
	data, err := s.store.LoadSession()
	if err != nil || data == nil {
		return err
	}
	s.mu.Lock()
	s.data = *data
	s.mu.Unlock()
	return nil
}

// Set installs a new credential and persists it.
func (s *Session) Set(token string, expiresAt time.Time, user User) error {
	data := SessionData{Token: token, ExpiresAt: expiresAt, User: user}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	if s.store != nil {
		return s.store.SaveSession(data)
	}
	return nil
}

// Token returns the bearer token, or "" when absent or expired.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Token == "" || s.expiredLocked() {
		return ""
	}
	return s.data.Token
}

// ExpiresAt returns the credential expiry (zero when unknown).
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ExpiresAt
}

// User returns the logged-in user.
func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Token == "" {
		return User{}, false
	}
	return s.data.User, true
}

// IsAuthenticated reports whether a usable token is present.
func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

// Clear tears the session down, including its persisted copy.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.data = SessionData{}
	s.mu.Unlock()

	if s.store != nil {
		return s.store.ClearSession()
	}
	return nil
}

// zero ExpiresAt means "no known expiry"
func (s *Session) expiredLocked() bool {
	return !s.data.ExpiresAt.IsZero() && !s.now().Before(s.data.ExpiresAt)
}
