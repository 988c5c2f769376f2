// Package processor turns raw step counter readings into attributed
// step deltas.
//
// The hardware counter is monotonic until the device or sensor stack
// restarts, at which point it drops back toward zero. The processor's
// job is to tell genuine restarts apart from delivery jitter, attribute
// a non-negative delta to every reading, and keep the cumulative total
// consistent across restarts of this process. All decisions are pure;
// only the state store side effects can fail.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"pedometerd/internal/state"
)

// Reset detection thresholds.
const (
	// ResetThreshold is the backward jump, in counter units, beyond
	// which a decrease is treated as a counter reset rather than
	// jitter.
	ResetThreshold = 1000

	// rebootPrevFloor and rebootCurrentCeiling describe the classic
	// post-reboot signature: the previous value was substantial and
	// the new one is near zero.
	rebootPrevFloor      = 500
	rebootCurrentCeiling = 50

	// maxPlausibleJump bounds the change between consecutive readings
	// in either direction. Anything larger means the counter is not
	// the one we were watching.
	maxPlausibleJump = 10000

	// jitterTolerance is the largest backward step still attributed
	// to scheduler/ordering jitter and counted as forward motion.
	jitterTolerance = 5
)

// Result describes one processed reading.
type Result struct {
	// CalculatedSteps is the non-negative delta attributed to this
	// reading.
	CalculatedSteps int64

	// SessionID is the session the reading belongs to after
	// processing. It differs from the previous session when a reset
	// occurred mid-call.
	SessionID string

	// FirstReading is set on the first reading ever observed.
	FirstReading bool

	// SensorReset is set when the reading was classified as a counter
	// reset.
	SensorReset bool
}

// Processor computes step deltas against the persisted state.
//
// It is not reentrant on its own; serialization comes from the state
// store's critical section and from the sensor manager's single
// processing lane.
type Processor struct {
	store state.Store
	log   *slog.Logger
}

// New creates a processor over the given state store.
func New(store state.Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: store, log: log}
}

// Initialize establishes the session for this process run. When the
// device rebooted since the last observation, or no session exists yet,
// a fresh session is minted; otherwise the stored session is reused.
func (p *Processor) Initialize(ctx context.Context, deviceRebooted bool) (string, error) {
	var sessionID string
	err := p.store.Update(ctx, func(st *state.State) error {
		if deviceRebooted || st.SessionID == state.NoSession {
			st.SessionID = state.NewSessionID()
			p.log.Info("starting new session",
				"session_id", st.SessionID,
				"device_rebooted", deviceRebooted)
		}
		sessionID = st.SessionID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("initialize session: %w", err)
	}
	return sessionID, nil
}

// StartNewSession forces a fresh session id regardless of reset
// detection. Used when tracking is explicitly (re)started.
func (p *Processor) StartNewSession(ctx context.Context) (string, error) {
	id, err := p.store.NewSession(ctx)
	if err != nil {
		return "", fmt.Errorf("start new session: %w", err)
	}
	p.log.Info("forced new session", "session_id", id)
	return id, nil
}

// ProcessReading classifies one (value, timestamp) pair and applies its
// effects to the persisted state. The whole read-classify-write runs in
// the state store's critical section, so the delta is always computed
// against the state left by the immediately preceding reading.
func (p *Processor) ProcessReading(ctx context.Context, value, timestamp int64) (Result, error) {
	var res Result
	err := p.store.Update(ctx, func(st *state.State) error {
		res = classify(st.LastSensorValue, value)

		if res.SensorReset {
			st.SessionID = state.NewSessionID()
			p.log.Info("sensor reset detected",
				"previous", st.LastSensorValue,
				"current", value,
				"session_id", st.SessionID)
		} else if res.CalculatedSteps == 0 && !res.FirstReading && value < st.LastSensorValue {
			p.log.Warn("anomalous counter decrease ignored",
				"previous", st.LastSensorValue,
				"current", value)
		}
		res.SessionID = st.SessionID

		// The baseline always advances, even for zero-delta and
		// anomalous readings.
		st.LastSensorValue = value
		st.LastTimestamp = timestamp
		if res.CalculatedSteps > 0 {
			st.TotalSteps += res.CalculatedSteps
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("process reading: %w", err)
	}
	return res, nil
}

// Finalize flushes pending work. State is persisted incrementally on
// every reading, so there is nothing left to write.
func (p *Processor) Finalize(ctx context.Context) error {
	return nil
}

// TotalSteps returns the cumulative step count.
func (p *Processor) TotalSteps(ctx context.Context) (int64, error) {
	st, err := p.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("read total: %w", err)
	}
	return st.TotalSteps, nil
}

// classify derives the delta and classification flags for a reading,
// given the previous stored counter value. Pure; never fails.
func classify(previous, current int64) Result {
	if previous == state.NoSensorValue {
		return Result{FirstReading: true}
	}

	if isReset(previous, current) {
		// The restarted counter's absolute value approximates the
		// steps taken since the restart. A stationary pre-reboot
		// residual can overcount here; accepted approximation.
		return Result{CalculatedSteps: current, SensorReset: true}
	}

	diff := current - previous
	if diff < 0 {
		if -diff <= jitterTolerance {
			return Result{CalculatedSteps: -diff}
		}
		return Result{}
	}
	return Result{CalculatedSteps: diff}
}

// isReset reports whether the jump from previous to current indicates
// the hardware counter restarted.
func isReset(previous, current int64) bool {
	if current < previous-ResetThreshold {
		return true
	}
	if previous > rebootPrevFloor && current < rebootCurrentCeiling {
		return true
	}
	if abs(current-previous) > maxPlausibleJump {
		return true
	}
	return false
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
