// Package sqlstore implements the account, profile and message stores on a SQL
// database through GORM. SQLite serves local runs and tests, MySQL production.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/realtime"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrProfileNotFound is returned when updating a profile that does not exist.
var ErrProfileNotFound = directory.ErrProfileNotFound

// Open connects to driver ("sqlite" or "mysql") at dsn. In-memory SQLite databases
// are limited to one connection so every query sees the same database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}

	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Store is a RemoteStore, account store and profile directory backed by GORM.
type Store struct {
	db  *gorm.DB
	pub realtime.Publisher
	now func() time.Time
}

// New returns a Store on db. Every committed write is published to pub when it is
// not nil.
func New(db *gorm.DB, pub realtime.Publisher) *Store {
	return &Store{
		db:  db,
		pub: pub,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&accountRow{}, &profileRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) publish(e realtime.Event) {
	if s.pub != nil {
		s.pub.Publish(e)
	}
}
