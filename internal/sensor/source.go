// Package sensor owns the tracking lifecycle: it subscribes to a
// platform step counter source, serializes deliveries onto a single
// processing lane, feeds them through the step processor, and persists
// the resulting records.
package sensor

import (
	"errors"
	"sync"
)

// Reading is one delivery from the platform step counter.
type Reading struct {
	// Value is the monotonic counter value.
	Value int64

	// Timestamp is the delivery time, UTC milliseconds.
	Timestamp int64
}

// ErrUnavailable is returned when no step counter capability is
// present on this host.
var ErrUnavailable = errors.New("sensor: step counter not available")

// Source is the platform step counter subscription primitive.
// Deliveries may originate from any goroutine; implementations emit
// them onto the returned channel and close it on Unsubscribe.
type Source interface {
	// Available reports whether the counter capability exists.
	Available() bool

	// Subscribe starts delivery and returns the reading channel. The
	// first post-subscribe delivery is stale pipeline content; the
	// manager discards it as a flush marker.
	Subscribe() (<-chan Reading, error)

	// Unsubscribe stops delivery and closes the channel. Idempotent.
	Unsubscribe() error
}

// Simulated is an in-process Source for tests and the simulated sensor
// mode. Emit may be called from any goroutine.
type Simulated struct {
	mu         sync.Mutex
	ch         chan Reading
	subscribed bool

	// Unavailable makes the source report no capability.
	Unavailable bool
}

// NewSimulated returns an unsubscribed simulated source.
func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unavailable
}

func (s *Simulated) Subscribe() (<-chan Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		return nil, ErrUnavailable
	}
	if s.subscribed {
		return s.ch, nil
	}
	s.ch = make(chan Reading, 256)
	s.subscribed = true
	return s.ch, nil
}

func (s *Simulated) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed {
		return nil
	}
	s.subscribed = false
	close(s.ch)
	return nil
}

// Emit delivers one reading. Returns false when the source is
// unsubscribed (the reading is discarded) or the delivery buffer is
// full.
func (s *Simulated) Emit(value, timestamp int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.subscribed {
		return false
	}
	select {
	case s.ch <- Reading{Value: value, Timestamp: timestamp}:
		return true
	default:
		return false
	}
}
