package storage

import (
	"path/filepath"
	"testing"
	"time"

	"orderbook_go/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestConfigOperations(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveSession(domain.SessionData{Token: "tok"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	m, err := s.LoadConfigMap()
	if err != nil {
		t.Fatalf("LoadConfigMap failed: %v", err)
	}
	if m[keyAuthToken] != "tok" || len(m) != 3 {
		t.Errorf("unexpected entries: %v", m)
	}

	if err := s.DeleteConfig(keyAuthToken, "nope"); err != nil {
		t.Fatalf("DeleteConfig failed: %v", err)
	}
	if err := s.DeleteConfig(); err != nil {
		t.Fatalf("DeleteConfig without keys failed: %v", err)
	}
	m, _ = s.LoadConfigMap()
	if _, ok := m[keyAuthToken]; ok || len(m) != 2 {
		t.Errorf("unexpected entries after delete: %v", m)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := setupTestDB(t)

	loaded, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession on empty db failed: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected no session, got %+v", loaded)
	}

	expiresAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := domain.SessionData{
		Token:     "tok-123",
		ExpiresAt: expiresAt,
		User:      domain.User{ID: "u1", Email: "a@b.c", Username: "alice"},
	}
	if err := s.SaveSession(in); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err = s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a session")
	}
	if loaded.Token != "tok-123" {
		t.Errorf("Token = %q", loaded.Token)
	}
	if !loaded.ExpiresAt.Equal(expiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", loaded.ExpiresAt, expiresAt)
	}
	if loaded.User != in.User {
		t.Errorf("User = %+v, want %+v", loaded.User, in.User)
	}

	if err := s.ClearSession(); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	loaded, err = s.LoadSession()
	if err != nil || loaded != nil {
		t.Errorf("expected no session after clear, got %+v, %v", loaded, err)
	}
}

func TestSessionWithoutExpiry(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveSession(domain.SessionData{Token: "tok"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	loaded, err := s.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !loaded.ExpiresAt.IsZero() {
		t.Errorf("expected zero expiry, got %v", loaded.ExpiresAt)
	}
}

func TestSessionRestoreThroughDomain(t *testing.T) {
	s := setupTestDB(t)

	first := domain.NewSession(s)
	if err := first.Set("persisted", time.Time{}, domain.User{ID: "7"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := domain.NewSession(s)
	if err := second.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if second.Token() != "persisted" {
		t.Errorf("restored token = %q", second.Token())
	}
}
