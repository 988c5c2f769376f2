package records

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Schema for the step record log.
const schema = `
CREATE TABLE IF NOT EXISTS step_records (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp           INTEGER NOT NULL,
    sensor_total_steps  INTEGER NOT NULL,
    calculated_steps    INTEGER NOT NULL,
    session_id          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_records_timestamp ON step_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_step_records_session ON step_records(session_id, timestamp);
`

// Store is the SQLite-backed record log.
//
// The mutex guards the mutable session tag and the cleanup counter; the
// log itself relies on SQLite's own isolation (WAL mode, so a committed
// write is visible to any read issued after it).
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu            sync.Mutex
	activeSession string
	inserts       int
	retention     time.Duration
	cleanupEvery  int
	probabilistic bool
	rng           *rand.Rand

	// now is swappable for tests.
	now func() time.Time
}

// Open opens or creates the record database at the given path.
func Open(path string, opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open records database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply records schema: %w", err)
	}

	return &Store{
		db:            db,
		log:           log,
		retention:     opts.Retention,
		cleanupEvery:  opts.CleanupEvery,
		probabilistic: opts.Probabilistic,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SetOptions replaces the retention settings. Used when the daemon's
// configuration is reloaded.
func (s *Store) SetOptions(opts Options) {
	opts = opts.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = opts.Retention
	s.cleanupEvery = opts.CleanupEvery
	s.probabilistic = opts.Probabilistic
}

// SetActiveSession updates the session tag applied to records that
// arrive without one. Called by the sensor manager whenever the session
// changes mid-stream.
func (s *Store) SetActiveSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSession = id
}

// ActiveSession returns the currently tracked session tag.
func (s *Store) ActiveSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSession
}

// RecordStep appends one record. A record without a session id gets the
// active session tag, or a generated fallback id when none is known;
// the write proceeds either way so records are never lost to session
// bookkeeping gaps.
func (s *Store) RecordStep(ctx context.Context, rec Record) error {
	s.mu.Lock()
	if rec.SessionID == "" {
		rec.SessionID = s.activeSession
		if rec.SessionID == "" {
			rec.SessionID = fmt.Sprintf("recovered-%d-%s", s.now().UnixMilli(), uuid.NewString())
			s.log.Warn("record arrived with no known session, generated fallback",
				"session_id", rec.SessionID,
				"timestamp", rec.Timestamp)
		}
	}
	runCleanup := s.bumpInsertCounter()
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_records (timestamp, sensor_total_steps, calculated_steps, session_id)
		VALUES (?, ?, ?, ?)`,
		rec.Timestamp, rec.SensorTotalSteps, rec.CalculatedSteps, rec.SessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: insert record: %v", ErrStorage, err)
	}

	if runCleanup {
		if err := s.cleanup(ctx); err != nil {
			// Cleanup failure never fails the insert.
			s.log.Error("retention cleanup failed", "error", err)
		}
	}
	return nil
}

// bumpInsertCounter decides whether this insert triggers retention
// cleanup. Caller holds s.mu.
func (s *Store) bumpInsertCounter() bool {
	if s.probabilistic {
		return s.rng.Intn(ProbabilisticDenominator) == 0
	}
	s.inserts++
	if s.inserts >= s.cleanupEvery {
		s.inserts = 0
		return true
	}
	return false
}

// cleanup deletes records older than the retention window.
func (s *Store) cleanup(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM step_records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("delete expired records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("retention cleanup removed records", "count", n, "cutoff", cutoff)
	}
	return nil
}

// StepsBetween returns the summed step count for records with
// timestamps in [from, to].
func (s *Store) StepsBetween(ctx context.Context, from, to int64) (int64, error) {
	if to < from {
		return 0, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(calculated_steps) FROM step_records
		WHERE timestamp >= ? AND timestamp <= ?`, from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: sum records: %v", ErrStorage, err)
	}
	return total.Int64, nil
}

// DetailedStepsBetween returns the records with timestamps in
// [from, to], ascending by timestamp.
func (s *Store) DetailedStepsBetween(ctx context.Context, from, to int64) ([]Record, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, sensor_total_steps, calculated_steps, session_id
		FROM step_records
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SessionSummaries groups the window's records by session.
func (s *Store) SessionSummaries(ctx context.Context, from, to int64) ([]SessionSummary, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, MIN(timestamp), MAX(timestamp), SUM(calculated_steps)
		FROM step_records
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY session_id
		ORDER BY MIN(timestamp) ASC`, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query session summaries: %v", ErrStorage, err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.StartTime, &sum.EndTime, &sum.TotalSteps); err != nil {
			return nil, fmt.Errorf("%w: scan session summary: %v", ErrStorage, err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate session summaries: %v", ErrStorage, err)
	}
	return summaries, nil
}

// scanRecords is a helper to scan record rows into a slice.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.SensorTotalSteps, &r.CalculatedSteps, &r.SessionID); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrStorage, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStorage, err)
	}
	return recs, nil
}
