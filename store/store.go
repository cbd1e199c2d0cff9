// Package store is the Run Store: the sole system of record for run
// lifecycle, backed by Postgres. Every lease transition is a conditional
// UPDATE ... WHERE whose affected-row count decides success, so mutual
// exclusion of execution never depends on an external lock.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested run cannot be located.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateIdempotencyKey is returned when bind_idempotency_key races
// against a concurrent binder.
var ErrDuplicateIdempotencyKey = errors.New("store: idempotency key already bound")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity to the underlying database, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// isUniqueViolation detects Postgres SQLSTATE 23505 (unique_violation).
// pgx's *pgconn.PgError implements SQLState(); we match it structurally so
// this package stays agnostic of the specific driver error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pgErr, ok := err.(interface{ SQLState() string }); ok {
		return pgErr.SQLState() == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
