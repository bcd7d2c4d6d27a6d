// Package store is the persistence gateway: typed accessors for users, API
// keys, both credential families, usage logs and system settings over
// PostgreSQL. It is the source of truth; the coordination store only holds
// derived hot state rebuilt from here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"omnirelay-go/internal/store/migrations"
)

// ErrNotFound reports a missing row with its lookup key.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// Store wraps the SQL connection pool.
type Store struct {
	db *sql.DB
}

// Open connects, configures the pool and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle (tests inject sqlmock-style fakes here).
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for the migration CLI.
func (s *Store) DB() *sql.DB {
	return s.db
}
