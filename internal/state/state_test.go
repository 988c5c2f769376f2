package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotDefaults(t *testing.T) {
	s := openTestStore(t)

	st, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if st.LastSensorValue != NoSensorValue {
		t.Errorf("LastSensorValue = %d, want %d", st.LastSensorValue, NoSensorValue)
	}
	if st.SessionID != NoSession {
		t.Errorf("SessionID = %q, want empty", st.SessionID)
	}
	if st.TotalSteps != 0 || st.LastTimestamp != 0 || st.Tracking {
		t.Errorf("unexpected non-default state: %+v", st)
	}
}

func TestSaveAndSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := State{
		LastSensorValue: 1234,
		SessionID:       "sess-a",
		TotalSteps:      99,
		LastTimestamp:   1700000000000,
		Tracking:        true,
		LastBootTime:    1699999000000,
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}
}

func TestSaveSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	want := State{LastSensorValue: 42, SessionID: "persisted", TotalSteps: 7}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if got != want {
		t.Errorf("Snapshot after reopen = %+v, want %+v", got, want)
	}
}

func TestNewSessionPersists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("NewSession returned empty id")
	}

	id2, err := s.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if id2 == id {
		t.Error("NewSession returned duplicate id")
	}

	st, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if st.SessionID != id2 {
		t.Errorf("SessionID = %q, want %q", st.SessionID, id2)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, State{LastSensorValue: 10, TotalSteps: 5}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wantErr := context.Canceled
	err := s.Update(ctx, func(st *State) error {
		st.TotalSteps = 9999
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Update error = %v, want %v", err, wantErr)
	}

	st, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if st.TotalSteps != 5 {
		t.Errorf("TotalSteps = %d after failed update, want 5", st.TotalSteps)
	}
}

func TestConcurrentUpdatesNoLostWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 25

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				err := s.Update(ctx, func(st *State) error {
					st.TotalSteps++
					return nil
				})
				if err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	st, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if want := int64(goroutines * perGoroutine); st.TotalSteps != want {
		t.Errorf("TotalSteps = %d, want %d (lost updates)", st.TotalSteps, want)
	}
}

func TestMemoryMatchesContract(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	st, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if st != Defaults() {
		t.Errorf("fresh memory store = %+v, want defaults", st)
	}

	if _, err := m.NewSession(ctx); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	m.FailWrites = true
	if err := m.SetTracking(ctx, true); err != ErrStorage {
		t.Errorf("SetTracking with failing writes = %v, want ErrStorage", err)
	}
}
