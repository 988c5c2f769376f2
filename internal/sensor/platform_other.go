//go:build !linux

package sensor

import "log/slog"

// unsupported is the Source on platforms without a step counter
// integration. Available is always false, so the manager refuses to
// start.
type unsupported struct{}

func (unsupported) Available() bool                    { return false }
func (unsupported) Subscribe() (<-chan Reading, error) { return nil, ErrUnavailable }
func (unsupported) Unsubscribe() error                 { return nil }

// NewPlatformSource returns the step counter source for this platform.
func NewPlatformSource(cfg PlatformConfig, log *slog.Logger) Source {
	return unsupported{}
}
