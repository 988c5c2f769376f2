// Package records provides the append-only SQLite log of processed
// step readings, with range queries, per-session aggregation and
// retention cleanup.
package records

import (
	"errors"
	"time"
)

// ErrInvalidRange is returned when a query's upper bound precedes its
// lower bound.
var ErrInvalidRange = errors.New("records: range end precedes start")

// ErrStorage indicates the backing storage rejected or lost an
// operation.
var ErrStorage = errors.New("records: storage unavailable")

// Record is one processed reading. Immutable once persisted.
type Record struct {
	ID               int64  `json:"id"`
	Timestamp        int64  `json:"timestamp"`          // UTC millis
	SensorTotalSteps int64  `json:"sensor_total_steps"` // raw counter value
	CalculatedSteps  int64  `json:"calculated_steps"`   // attributed delta
	SessionID        string `json:"session_id"`
}

// SessionSummary aggregates the records of one session within a query
// window.
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	StartTime  int64  `json:"start_time"`
	EndTime    int64  `json:"end_time"`
	TotalSteps int64  `json:"total_steps"`
}

// Options configures a record store.
type Options struct {
	// Retention is the maximum record age before a record becomes
	// eligible for cleanup. Zero selects DefaultRetention.
	Retention time.Duration

	// CleanupEvery triggers cleanup deterministically after this many
	// inserts. Zero selects DefaultCleanupEvery. Ignored when
	// Probabilistic is set.
	CleanupEvery int

	// Probabilistic restores the legacy trigger: each insert runs
	// cleanup with probability 1/ProbabilisticDenominator.
	Probabilistic bool
}

// Default retention behavior.
const (
	DefaultRetention    = 30 * 24 * time.Hour
	DefaultCleanupEvery = 100

	// ProbabilisticDenominator gives the legacy ~1% per-insert
	// cleanup chance.
	ProbabilisticDenominator = 100
)

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.CleanupEvery <= 0 {
		o.CleanupEvery = DefaultCleanupEvery
	}
	return o
}
