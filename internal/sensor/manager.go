package sensor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"pedometerd/internal/processor"
	"pedometerd/internal/records"
)

// StepProcessor is the slice of the processor the manager drives.
type StepProcessor interface {
	ProcessReading(ctx context.Context, value, timestamp int64) (processor.Result, error)
	StartNewSession(ctx context.Context) (string, error)
	Finalize(ctx context.Context) error
}

// Recorder is the slice of the record store the manager drives.
type Recorder interface {
	RecordStep(ctx context.Context, rec records.Record) error
	SetActiveSession(id string)
}

// Observer receives processing outcomes for metrics. Implementations
// must be safe for concurrent use. A nil Observer is allowed.
type Observer interface {
	ObserveReading(res processor.Result, err error)
	ObserveRecord(err error)
	ObserveTracking(on bool)
}

// Manager runs the Stopped -> Tracking -> Stopped lifecycle.
//
// Raw deliveries can arrive from any goroutine; the manager funnels
// them through one lane goroutine so a reading is fully processed
// (classified, state committed, record persisted) before the next one
// starts. The processor never needs to be reentrant-safe.
type Manager struct {
	proc StepProcessor
	rec  Recorder
	src  Source
	obs  Observer
	log  *slog.Logger

	mu       sync.Mutex
	tracking bool
	laneWG   sync.WaitGroup

	// session is updated by the lane when a reset changes the id
	// mid-stream; kept out of mu so the lane never contends with
	// Start/Stop.
	session atomic.Value // string
}

// NewManager wires a manager. obs may be nil.
func NewManager(proc StepProcessor, rec Recorder, src Source, obs Observer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{proc: proc, rec: rec, src: src, obs: obs, log: log}
}

// Available reports whether the underlying step counter exists.
func (m *Manager) Available() bool {
	return m.src != nil && m.src.Available()
}

// Tracking reports whether a tracking session is active.
func (m *Manager) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// Session returns the session currently in effect, or "".
func (m *Manager) Session() string {
	if s, ok := m.session.Load().(string); ok {
		return s
	}
	return ""
}

// Start begins tracking. A fresh session is minted, the source is
// subscribed, and the first delivery is discarded as a flush marker.
// Calling Start while already tracking succeeds without side effects.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracking {
		return m.Session(), nil
	}
	if !m.Available() {
		return "", ErrUnavailable
	}

	// Wait out a previous lane still draining its closed channel.
	m.laneWG.Wait()

	session, err := m.proc.StartNewSession(ctx)
	if err != nil {
		return "", err
	}
	m.rec.SetActiveSession(session)

	ch, err := m.src.Subscribe()
	if err != nil {
		return "", err
	}

	m.tracking = true
	m.session.Store(session)
	if m.obs != nil {
		m.obs.ObserveTracking(true)
	}
	m.laneWG.Add(1)
	go m.lane(ch, session)

	m.log.Info("tracking started", "session_id", session)
	return session, nil
}

// Stop ends tracking. It unsubscribes, schedules the processor's
// finalize asynchronously, and returns without waiting for it.
// Calling Stop while stopped succeeds.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracking {
		return nil
	}

	if err := m.src.Unsubscribe(); err != nil {
		m.log.Warn("unsubscribe failed", "error", err)
	}
	m.tracking = false
	if m.obs != nil {
		m.obs.ObserveTracking(false)
	}

	// Fire-and-forget: finalize failures are logged, never surfaced
	// to the caller of Stop.
	go func() {
		if err := m.proc.Finalize(context.Background()); err != nil {
			m.log.Error("finalize failed", "error", err)
		}
	}()

	m.log.Info("tracking stopped", "session_id", m.Session())
	return nil
}

// lane is the single serialized processing loop. It exits when the
// source channel closes on unsubscribe.
func (m *Manager) lane(ch <-chan Reading, session string) {
	defer m.laneWG.Done()

	flushed := false
	for r := range ch {
		if !flushed {
			// First post-subscribe delivery is stale pipeline
			// content, not a reading.
			flushed = true
			m.log.Debug("discarded flush marker", "value", r.Value)
			continue
		}
		session = m.processOne(r, session)
	}
}

// processOne runs the full pipeline for one reading and returns the
// session in effect afterwards.
func (m *Manager) processOne(r Reading, session string) string {
	ctx := context.Background()

	res, err := m.proc.ProcessReading(ctx, r.Value, r.Timestamp)
	if m.obs != nil {
		m.obs.ObserveReading(res, err)
	}
	if err != nil {
		// The reading is dropped, not retried; state was left
		// untouched by the aborted call.
		m.log.Error("reading dropped", "value", r.Value, "error", err)
		return session
	}

	if res.SessionID != session {
		session = res.SessionID
		m.rec.SetActiveSession(session)
		m.session.Store(session)
	}

	// Zero-delta ordinary readings are not persisted; first and reset
	// readings are, to mark session boundaries.
	if res.CalculatedSteps > 0 || res.FirstReading || res.SensorReset {
		err := m.rec.RecordStep(ctx, records.Record{
			Timestamp:        r.Timestamp,
			SensorTotalSteps: r.Value,
			CalculatedSteps:  res.CalculatedSteps,
			SessionID:        res.SessionID,
		})
		if m.obs != nil {
			m.obs.ObserveRecord(err)
		}
		if err != nil {
			// State already committed; losing the historical record
			// does not corrupt the total.
			m.log.Error("record write failed", "timestamp", r.Timestamp, "error", err)
		}
	}
	return session
}
