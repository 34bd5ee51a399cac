package domain

import (
	"errors"
	"testing"
	"time"
)

type memoryStore struct {
	data    *SessionData
	saves   int
	clears  int
	loadErr error
}

func (m *memoryStore) SaveSession(data SessionData) error {
	m.saves++
	m.data = &data
	return nil
}

func (m *memoryStore) LoadSession() (*SessionData, error) {
	return m.data, m.loadErr
}

func (m *memoryStore) ClearSession() error {
	m.clears++
	m.data = nil
	return nil
}

func TestSession(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("set persists and exposes token", func(t *testing.T) {
		store := &memoryStore{}
		s := NewSession(store)
		s.now = func() time.Time { return now }

		if s.IsAuthenticated() {
			t.Fatal("new session should be anonymous")
		}
		if err := s.Set("tok", now.Add(time.Hour), User{ID: "1"}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if s.Token() != "tok" {
			t.Errorf("Token = %q", s.Token())
		}
		if store.saves != 1 || store.data.Token != "tok" {
			t.Errorf("store not updated: %+v", store)
		}
		if u, ok := s.User(); !ok || u.ID != "1" {
			t.Errorf("User = %+v, %v", u, ok)
		}
	})

	t.Run("expired token is treated as absent", func(t *testing.T) {
		s := NewSession(nil)
		s.now = func() time.Time { return now }
		_ = s.Set("tok", now.Add(-time.Second), User{})

		if s.Token() != "" {
			t.Error("expired token should not be returned")
		}
		if s.IsAuthenticated() {
			t.Error("expired session should not be authenticated")
		}
	})

	t.Run("zero expiry never expires", func(t *testing.T) {
		s := NewSession(nil)
		_ = s.Set("tok", time.Time{}, User{})
		if s.Token() != "tok" {
			t.Error("token without expiry should be usable")
		}
	})

	t.Run("clear tears down store", func(t *testing.T) {
		store := &memoryStore{}
		s := NewSession(store)
		_ = s.Set("tok", time.Time{}, User{})

		if err := s.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if s.Token() != "" || store.clears != 1 || store.data != nil {
			t.Error("Clear should remove token in memory and in store")
		}
	})

	t.Run("restore", func(t *testing.T) {
		store := &memoryStore{data: &SessionData{Token: "saved"}}
		s := NewSession(store)
		if err := s.Restore(); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if s.Token() != "saved" {
			t.Errorf("Token = %q", s.Token())
		}
	})

	t.Run("restore error", func(t *testing.T) {
		boom := errors.New("disk")
		s := NewSession(&memoryStore{loadErr: boom})
		if err := s.Restore(); !errors.Is(err, boom) {
			t.Errorf("Restore err = %v", err)
		}
	})
}
