package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// kvEntry is the database model for one key.
type kvEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "session_kv"
}

// SQLite is a [Store] backed by a SQLite database through GORM.
type SQLite struct {
	db *gorm.DB
}

var _ Store = &SQLite{}

// OpenSQLite opens (creating it if needed) the database at path. Use
// ":memory:" for a transient database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %s", ErrStore, path, err.Error())
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStore, err.Error())
	}
	// a single connection keeps ":memory:" databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	return NewSQLite(db)
}

// NewSQLite wraps an existing GORM handle, migrating the schema.
func NewSQLite(db *gorm.DB) (*SQLite, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("%w: auto migrate: %s", ErrStore, err.Error())
	}
	return &SQLite{db: db}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var entry kvEntry
	result := s.db.WithContext(ctx).Where("key = ?", key).First(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: get %s: %s", ErrStore, key, result.Error.Error())
	}
	return entry.Value, true, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	entry := &kvEntry{Key: key, Value: value}
	if result := s.db.WithContext(ctx).Save(entry); result.Error != nil {
		return fmt.Errorf("%w: set %s: %s", ErrStore, key, result.Error.Error())
	}
	return nil
}

// Remove implements Store.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Where("key = ?", key).Delete(&kvEntry{})
	if result.Error != nil {
		return fmt.Errorf("%w: remove %s: %s", ErrStore, key, result.Error.Error())
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
