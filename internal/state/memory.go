package state

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used in tests and as a reference for the
// serialization contract. It keeps exactly the same semantics as the
// SQLite store minus durability.
type Memory struct {
	mu      sync.Mutex
	st      State
	written bool

	// FailWrites makes every mutation return ErrStorage, simulating
	// unavailable backing storage.
	FailWrites bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: Defaults()}
}

func (m *Memory) Snapshot(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, nil
}

func (m *Memory) Save(ctx context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(st)
}

func (m *Memory) Update(ctx context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.st
	if err := fn(&st); err != nil {
		return err
	}
	return m.save(st)
}

func (m *Memory) NewSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := NewSessionID()
	st := m.st
	st.SessionID = id
	if err := m.save(st); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) SetTracking(ctx context.Context, on bool) error {
	return m.Update(ctx, func(st *State) error {
		st.Tracking = on
		return nil
	})
}

func (m *Memory) Close() error { return nil }

// save commits st. Caller holds m.mu.
func (m *Memory) save(st State) error {
	if m.FailWrites {
		return ErrStorage
	}
	m.st = st
	m.written = true
	return nil
}
