package state

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
)

const (
	postgresTableName        = "frontpipe_state"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps one snapshot row per target date in a single table,
// created on first use. The connection is opened lazily so constructing a
// store never touches the network.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a Postgres-backed store for the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.ConfigError(errors.CodeMissingConfig, "state_dsn", dsn, nil)
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		const query = `
			CREATE TABLE IF NOT EXISTS ` + postgresTableName + ` (
				target_date TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// Load reads the snapshot for the date.
func (s *PostgresStore) Load(targetDate string) ([]*models.FeedRow, bool, error) {
	if err := s.ensureReady(); err != nil {
		return nil, false, errors.StateError(errors.CodeStateLoadFailed, targetDate, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	const query = `SELECT snapshot FROM ` + postgresTableName + ` WHERE target_date = $1`
	var payload string
	err := s.db.QueryRowContext(ctx, query, targetDate).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StateError(errors.CodeStateLoadFailed, targetDate, err)
	}

	var rows []*models.FeedRow
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, false, errors.StateError(errors.CodeStateLoadFailed, targetDate, err)
	}
	return rows, true, nil
}

// Save upserts the snapshot for the date in a single statement.
func (s *PostgresStore) Save(targetDate string, rows []*models.FeedRow) error {
	if err := s.ensureReady(); err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	const query = `
		INSERT INTO ` + postgresTableName + ` (target_date, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (target_date)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, query, targetDate, string(payload)); err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
