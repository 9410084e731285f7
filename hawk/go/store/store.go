// Package store is the durable relational state of the monitor: tiles,
// projects, the tile<->project relation, and the append-only history of diff
// results. All state lives in an embedded SQLite database; every exported
// call is atomic, and multi-statement operations run inside a single
// transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite3 "github.com/mattn/go-sqlite3"

	"go.pixelhawk.org/hawk/go/database"
	"go.pixelhawk.org/hawk/go/skerr"
)

const (
	// HeatInactive marks a tile no active project overlaps; it is excluded
	// from scheduling.
	HeatInactive = 0

	// HeatBurning marks a newly observed tile awaiting graduation into a
	// temperature queue.
	HeatBurning = 999

	// MaxTemperature is the highest heat a temperature queue can carry.
	MaxTemperature = 998
)

// Store wraps the versioned database with the typed operations the monitor
// needs.
type Store struct {
	vdb *database.VersionedDB
}

// New opens (and migrates) the database at dbPath and returns a Store over
// it. Use ":memory:" in tests.
func New(dbPath string) (*Store, error) {
	vdb, err := database.New(dbPath, migrationSteps)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &Store{vdb: vdb}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.vdb.Close()
}

// isTransient returns true for errors that a single retry is allowed to
// paper over (SQLITE_BUSY and friends). Anything else is treated as fatal by
// the caller.
func isTransient(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs fn, retrying exactly once after a short pause if it fails
// with a transient database error.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// inTransaction runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (s *Store) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.vdb.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
