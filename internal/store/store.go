// Package store is the Postgres document store: projects with their
// embedded API keys and alarms, users, plans, and the durable log records.
package store

import (
	"database/sql"
	"errors"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an optimistic write lost the race;
	// callers re-read and retry.
	ErrVersionConflict = errors.New("project version conflict")
)

// Store wraps the Postgres connection.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// New creates a store around an open connection.
func New(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}
