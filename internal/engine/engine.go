// Package engine assembles the step delta components behind the
// caller-facing boundary: availability, initialization, tracking
// lifecycle and the query surface.
package engine

import (
	"context"
	"log/slog"

	"pedometerd/internal/records"
	"pedometerd/internal/sensor"
	"pedometerd/internal/state"
)

// RebootChecker supplies the "device rebooted since last observation"
// signal consumed at Initialize.
type RebootChecker interface {
	Rebooted(ctx context.Context) (bool, error)
}

// Initializer is the slice of the step processor the engine calls at
// startup.
type Initializer interface {
	Initialize(ctx context.Context, deviceRebooted bool) (string, error)
}

// Engine is the step delta engine's exposed surface. All methods
// return typed *Error failures; see errors.go for the taxonomy.
type Engine struct {
	store state.Store
	proc  Initializer
	mgr   *sensor.Manager
	rec   *records.Store
	boot  RebootChecker
	log   *slog.Logger
}

// New wires an engine. boot may be nil, in which case Initialize never
// sees a reboot signal.
func New(store state.Store, proc Initializer, mgr *sensor.Manager, rec *records.Store, boot RebootChecker, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, proc: proc, mgr: mgr, rec: rec, boot: boot, log: log}
}

// IsSensorAvailable reports whether a step counter exists on this
// host.
func (e *Engine) IsSensorAvailable() bool {
	return e.mgr.Available()
}

// Initialize establishes the session for this process run and primes
// the record store's session tag.
func (e *Engine) Initialize(ctx context.Context) error {
	rebooted := false
	if e.boot != nil {
		var err error
		rebooted, err = e.boot.Rebooted(ctx)
		if err != nil {
			return wrap("initialize", err)
		}
	}

	session, err := e.proc.Initialize(ctx, rebooted)
	if err != nil {
		return wrap("initialize", err)
	}
	e.rec.SetActiveSession(session)
	return nil
}

// StartTracking begins a tracking session and returns its id.
func (e *Engine) StartTracking(ctx context.Context) (string, error) {
	if !e.mgr.Available() {
		return "", wrapAs(CodeUnsupported, "start tracking", sensor.ErrUnavailable)
	}

	session, err := e.mgr.Start(ctx)
	if err != nil {
		return "", wrapAs(CodeTracking, "start tracking", err)
	}
	if err := e.store.SetTracking(ctx, true); err != nil {
		// Tracking is running; a failed flag write is a storage
		// problem, not a lifecycle one.
		return session, wrap("start tracking", err)
	}
	return session, nil
}

// StopTracking ends the tracking session. In-flight finalize work is
// fire-and-forget.
func (e *Engine) StopTracking(ctx context.Context) error {
	if err := e.mgr.Stop(); err != nil {
		return wrapAs(CodeTracking, "stop tracking", err)
	}
	if err := e.store.SetTracking(ctx, false); err != nil {
		return wrap("stop tracking", err)
	}
	return nil
}

// IsTracking reports whether a tracking session is active.
func (e *Engine) IsTracking() bool {
	return e.mgr.Tracking()
}

// CurrentSession returns the session id in effect, or "".
func (e *Engine) CurrentSession() string {
	return e.mgr.Session()
}

// TotalSteps returns the cumulative count across all sessions.
func (e *Engine) TotalSteps(ctx context.Context) (int64, error) {
	st, err := e.store.Snapshot(ctx)
	if err != nil {
		return 0, wrap("total steps", err)
	}
	return st.TotalSteps, nil
}

// QueryTotal returns the aggregated step count for [from, to].
func (e *Engine) QueryTotal(ctx context.Context, from, to int64) (int64, error) {
	total, err := e.rec.StepsBetween(ctx, from, to)
	if err != nil {
		return 0, wrap("query total", err)
	}
	return total, nil
}

// QueryDetailed returns the record series for [from, to], ascending by
// timestamp.
func (e *Engine) QueryDetailed(ctx context.Context, from, to int64) ([]records.Record, error) {
	recs, err := e.rec.DetailedStepsBetween(ctx, from, to)
	if err != nil {
		return nil, wrap("query detailed", err)
	}
	return recs, nil
}

// QuerySessions returns per-session aggregates for [from, to].
func (e *Engine) QuerySessions(ctx context.Context, from, to int64) ([]records.SessionSummary, error) {
	sums, err := e.rec.SessionSummaries(ctx, from, to)
	if err != nil {
		return nil, wrap("query sessions", err)
	}
	return sums, nil
}
