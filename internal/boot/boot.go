// Package boot detects whether the device rebooted since the engine
// last observed it. The step counter restarts with the kernel, so a
// reboot means the stored sensor baseline no longer applies.
package boot

import (
	"context"
	"fmt"
	"log/slog"

	"pedometerd/internal/state"
)

// bootTimeSlack absorbs rounding between uptime reads: two boot-time
// samples within this many milliseconds are the same boot.
const bootTimeSlack = 2000

// Detector compares the kernel boot time with the one persisted at the
// previous initialization.
type Detector struct {
	store state.Store
	log   *slog.Logger

	// bootTime is swappable for tests.
	bootTime func() (int64, error)
}

// NewDetector creates a detector over the given state store.
func NewDetector(store state.Store, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{store: store, log: log, bootTime: Time}
}

// Rebooted reports whether the device rebooted since the last call,
// and persists the current boot time for the next one.
//
// A first run (no stored boot time) is not a reboot. When the platform
// cannot report its boot time the detector answers false and leaves
// the stored value alone; the processor's reset detection still
// catches the counter discontinuity.
func (d *Detector) Rebooted(ctx context.Context) (bool, error) {
	current, err := d.bootTime()
	if err != nil {
		d.log.Warn("boot time unavailable, assuming no reboot", "error", err)
		return false, nil
	}

	var rebooted bool
	err = d.store.Update(ctx, func(st *state.State) error {
		if st.LastBootTime != 0 && abs(current-st.LastBootTime) > bootTimeSlack {
			rebooted = true
		}
		st.LastBootTime = current
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("persist boot time: %w", err)
	}

	if rebooted {
		d.log.Info("device reboot detected", "boot_time", current)
	}
	return rebooted, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
