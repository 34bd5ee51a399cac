package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"orderbook_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	keyAuthToken   = "auth_token"
	keyTokenExpiry = "token_expiry"
	keyUser        = "user"
)

// Storage persists local client state (session, preferences) in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance.
// An empty path resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "OrderBookGo", "data", "orderbook.db"), nil
}

// ======================================================================================
// Config Operations
// ======================================================================================

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}

// DeleteConfig removes the given keys.
func (s *Storage) DeleteConfig(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Where("`key` IN ?", keys).Delete(&domain.AppConfig{}).Error
}

// ======================================================================================
// Session Operations (domain.SessionStore)
// ======================================================================================

// SaveSession persists token, expiry and user in one transaction.
func (s *Storage) SaveSession(data domain.SessionData) error {
	user, err := json.Marshal(data.User)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	expiry := ""
	if !data.ExpiresAt.IsZero() {
		expiry = data.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		rows := []domain.AppConfig{
			{Key: keyAuthToken, Value: data.Token},
			{Key: keyTokenExpiry, Value: expiry},
			{Key: keyUser, Value: string(user)},
		}
		for i := range rows {
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSession returns the persisted session, or nil when none is stored.
func (s *Storage) LoadSession() (*domain.SessionData, error) {
	values, err := s.LoadConfigMap()
	if err != nil {
		return nil, err
	}

	token := values[keyAuthToken]
	if token == "" {
		return nil, nil
	}

	data := &domain.SessionData{Token: token}
	if raw := values[keyTokenExpiry]; raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt token expiry %q: %w", raw, err)
		}
		data.ExpiresAt = expiresAt
	}
	if raw := values[keyUser]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.User); err != nil {
			return nil, fmt.Errorf("corrupt user record: %w", err)
		}
	}
	return data, nil
}

// ClearSession removes every session key.
func (s *Storage) ClearSession() error {
	return s.DeleteConfig(keyAuthToken, keyTokenExpiry, keyUser)
}
