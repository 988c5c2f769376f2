// Package state persists the step engine's mutable tracking state.
//
// A single State snapshot exists per installation. Every store
// implementation serializes access internally: callers never observe a
// partially applied read-modify-write, no matter how many goroutines
// touch the store at once.
package state

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrStorage indicates the backing storage rejected or lost a read/write.
var ErrStorage = errors.New("state: storage unavailable")

// Sentinel defaults returned by a store that has never been written.
const (
	NoSensorValue = -1
	NoSession     = ""
)

// State is the persisted tracking state.
type State struct {
	// LastSensorValue is the last raw counter value observed.
	// NoSensorValue means no reading has ever been processed.
	LastSensorValue int64

	// SessionID identifies the current reset-free observation window.
	// NoSession means no session has been established yet.
	SessionID string

	// TotalSteps is the cumulative count across all sessions.
	// It never decreases.
	TotalSteps int64

	// LastTimestamp is the timestamp of the last processed reading,
	// UTC milliseconds since epoch.
	LastTimestamp int64

	// Tracking reports whether a tracking session is active.
	Tracking bool

	// LastBootTime is the kernel boot time observed at the last
	// initialization, UTC milliseconds. Used for reboot detection.
	LastBootTime int64
}

// Defaults returns the state of a never-written installation.
func Defaults() State {
	return State{LastSensorValue: NoSensorValue, SessionID: NoSession}
}

// Store is the durable state capability.
//
// Snapshot and Save move whole snapshots; Update runs fn inside the
// store's critical section so a compound read-modify-write (classify a
// reading, advance the baseline, bump the total) commits atomically
// with respect to every other store operation.
type Store interface {
	// Snapshot returns the current state, or Defaults() when nothing
	// has been persisted yet.
	Snapshot(ctx context.Context) (State, error)

	// Save persists a full snapshot.
	Save(ctx context.Context, st State) error

	// Update loads the state, applies fn, and persists the result,
	// all under the store's lock. If fn returns an error nothing is
	// written.
	Update(ctx context.Context, fn func(*State) error) error

	// NewSession mints a fresh session identifier, persists it as the
	// current one, and returns it.
	NewSession(ctx context.Context) (string, error)

	// SetTracking flips the tracking flag.
	SetTracking(ctx context.Context, on bool) error

	Close() error
}

// NewSessionID returns a fresh globally-unique session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
