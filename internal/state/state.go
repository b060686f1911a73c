// Package state persists the per-target-date row set between runs.
//
// Three backends are provided: a JSON file per target date for the common
// single-host setup, Postgres for shared deployments, and an in-memory store
// for tests. All backends hold full snapshots keyed by target date, so a
// save after a partial run never loses rows it did not touch.
package state

import (
	"strings"

	"frontpipe/internal/models"
)

// Store loads and saves the row set for a target date. Save replaces the
// whole snapshot for that date and must be atomic with respect to readers.
type Store interface {
	// Load returns the persisted rows for the date, or ok=false when the
	// date has never been saved.
	Load(targetDate string) (rows []*models.FeedRow, ok bool, err error)
	// Save replaces the snapshot for the date.
	Save(targetDate string, rows []*models.FeedRow) error
	Close() error
}

// NewStore selects a backend from the DSN. A "memory" DSN yields the
// in-memory store, a postgres:// or postgresql:// URL yields the Postgres
// store, and anything else is treated as a state directory path.
func NewStore(dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(dsn)
	default:
		return NewFileStore(dsn)
	}
}
