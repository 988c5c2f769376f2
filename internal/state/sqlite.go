package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the engine state table. A plain key/value shape keeps the
// store free of business knowledge; fields are stored as text.
const schema = `
CREATE TABLE IF NOT EXISTS engine_state (
    key     TEXT PRIMARY KEY,
    value   TEXT NOT NULL
);
`

// State field keys.
const (
	keyLastSensorValue = "last_sensor_value"
	keySessionID       = "session_id"
	keyTotalSteps      = "total_steps"
	keyLastTimestamp   = "last_timestamp"
	keyTracking        = "tracking"
	keyLastBootTime    = "last_boot_time"
)

// SQLite is the production Store backed by a SQLite database.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the state database at the given path.
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Snapshot returns the current state under the store lock.
func (s *SQLite) Snapshot(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save persists a full snapshot under the store lock.
func (s *SQLite) Save(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, st)
}

// Update applies fn to the current state and persists the result as a
// single critical section.
func (s *SQLite) Update(ctx context.Context, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	return s.save(ctx, st)
}

// NewSession mints and persists a fresh session identifier.
func (s *SQLite) NewSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewSessionID()
	st, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	st.SessionID = id
	if err := s.save(ctx, st); err != nil {
		return "", err
	}
	return id, nil
}

// SetTracking flips the tracking flag.
func (s *SQLite) SetTracking(ctx context.Context, on bool) error {
	return s.Update(ctx, func(st *State) error {
		st.Tracking = on
		return nil
	})
}

// load reads all fields, substituting sentinel defaults for anything
// missing. Caller holds s.mu.
func (s *SQLite) load(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM engine_state`)
	if err != nil {
		return State{}, fmt.Errorf("%w: query state: %v", ErrStorage, err)
	}
	defer rows.Close()

	st := Defaults()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return State{}, fmt.Errorf("%w: scan state: %v", ErrStorage, err)
		}
		if err := applyField(&st, key, value); err != nil {
			return State{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("%w: iterate state: %v", ErrStorage, err)
	}

	return st, nil
}

// save writes all fields in one transaction. Caller holds s.mu.
func (s *SQLite) save(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin state write: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO engine_state (key, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare state write: %v", ErrStorage, err)
	}
	defer stmt.Close()

	for key, value := range fields(st) {
		if _, err := stmt.ExecContext(ctx, key, value); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrStorage, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit state write: %v", ErrStorage, err)
	}
	return nil
}

func fields(st State) map[string]string {
	return map[string]string{
		keyLastSensorValue: strconv.FormatInt(st.LastSensorValue, 10),
		keySessionID:       st.SessionID,
		keyTotalSteps:      strconv.FormatInt(st.TotalSteps, 10),
		keyLastTimestamp:   strconv.FormatInt(st.LastTimestamp, 10),
		keyTracking:        strconv.FormatBool(st.Tracking),
		keyLastBootTime:    strconv.FormatInt(st.LastBootTime, 10),
	}
}

func applyField(st *State, key, value string) error {
	var err error
	switch key {
	case keyLastSensorValue:
		st.LastSensorValue, err = strconv.ParseInt(value, 10, 64)
	case keySessionID:
		st.SessionID = value
	case keyTotalSteps:
		st.TotalSteps, err = strconv.ParseInt(value, 10, 64)
	case keyLastTimestamp:
		st.LastTimestamp, err = strconv.ParseInt(value, 10, 64)
	case keyTracking:
		st.Tracking, err = strconv.ParseBool(value)
	case keyLastBootTime:
		st.LastBootTime, err = strconv.ParseInt(value, 10, 64)
	default:
		// Unknown keys are tolerated for forward compatibility.
	}
	if err != nil {
		return fmt.Errorf("%w: corrupt field %s=%q: %v", ErrStorage, key, value, err)
	}
	return nil
}
