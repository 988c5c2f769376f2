package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedometerd/internal/processor"
	"pedometerd/internal/records"
	"pedometerd/internal/sensor"
	"pedometerd/internal/state"
)

type fixedReboot struct {
	rebooted bool
	err      error
}

func (f fixedReboot) Rebooted(ctx context.Context) (bool, error) {
	return f.rebooted, f.err
}

func newTestEngine(t *testing.T, boot RebootChecker) (*Engine, *sensor.Simulated, *state.Memory) {
	t.Helper()

	store := state.NewMemory()
	proc := processor.New(store, nil)
	rec, err := records.Open(filepath.Join(t.TempDir(), "steps.db"), records.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })

	src := sensor.NewSimulated()
	mgr := sensor.NewManager(proc, rec, src, nil, nil)

	return New(store, proc, mgr, rec, boot, nil), src, store
}

func waitForValue(t *testing.T, store *state.Memory, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		st, err := store.Snapshot(context.Background())
		require.NoError(t, err)
		if st.LastSensorValue == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("value %d never observed", want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInitializeMintsAndReusesSession(t *testing.T) {
	eng, _, store := newTestEngine(t, fixedReboot{})
	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx))
	st, _ := store.Snapshot(ctx)
	first := st.SessionID
	require.NotEmpty(t, first)

	require.NoError(t, eng.Initialize(ctx))
	st, _ = store.Snapshot(ctx)
	assert.Equal(t, first, st.SessionID)
}

func TestInitializeAfterReboot(t *testing.T) {
	eng, _, store := newTestEngine(t, fixedReboot{rebooted: true})
	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx))
	st, _ := store.Snapshot(ctx)
	first := st.SessionID

	require.NoError(t, eng.Initialize(ctx))
	st, _ = store.Snapshot(ctx)
	assert.NotEqual(t, first, st.SessionID, "reboot signal must mint a new session")
}

func TestTrackingLifecycle(t *testing.T) {
	eng, src, store := newTestEngine(t, fixedReboot{})
	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx))
	assert.True(t, eng.IsSensorAvailable())
	assert.False(t, eng.IsTracking())

	session, err := eng.StartTracking(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, session)
	assert.True(t, eng.IsTracking())
	assert.Equal(t, session, eng.CurrentSession())

	st, _ := store.Snapshot(ctx)
	assert.True(t, st.Tracking)

	src.Emit(0, 1)   // flush marker
	src.Emit(100, 2) // first reading
	src.Emit(160, 3) // +60
	waitForValue(t, store, 160)

	total, err := eng.TotalSteps(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 60, total)

	require.NoError(t, eng.StopTracking(ctx))
	assert.False(t, eng.IsTracking())
	st, _ = store.Snapshot(ctx)
	assert.False(t, st.Tracking)
}

func TestQueriesRoundTrip(t *testing.T) {
	eng, src, store := newTestEngine(t, fixedReboot{})
	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx))
	session, err := eng.StartTracking(ctx)
	require.NoError(t, err)

	src.Emit(0, 5)   // flush marker
	src.Emit(50, 10) // first reading, recorded with delta 0
	src.Emit(80, 20) // +30
	src.Emit(95, 30) // +15
	waitForValue(t, store, 95)
	require.NoError(t, eng.StopTracking(ctx))

	total, err := eng.QueryTotal(ctx, 0, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 45, total)

	recs, err := eng.QueryDetailed(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.EqualValues(t, 10, recs[0].Timestamp)
	assert.EqualValues(t, 0, recs[0].CalculatedSteps)
	assert.EqualValues(t, 30, recs[1].CalculatedSteps)
	assert.EqualValues(t, 15, recs[2].CalculatedSteps)

	sums, err := eng.QuerySessions(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, session, sums[0].SessionID)
	assert.EqualValues(t, 45, sums[0].TotalSteps)
}

func TestErrorTaxonomy(t *testing.T) {
	eng, src, _ := newTestEngine(t, fixedReboot{})
	ctx := context.Background()

	// Malformed range: invalid_parameter.
	_, err := eng.QueryTotal(ctx, 100, 50)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidParameter, CodeOf(err))
	assert.ErrorIs(t, err, records.ErrInvalidRange)

	// Absent sensor: unsupported.
	src.Unavailable = true
	_, err = eng.StartTracking(ctx)
	require.Error(t, err)
	assert.Equal(t, CodeUnsupported, CodeOf(err))

	// Unclassified errors: unexpected.
	assert.Equal(t, CodeUnexpected, CodeOf(errors.New("anything")))
}

func TestStorageFailureClassified(t *testing.T) {
	store := state.NewMemory()
	proc := processor.New(store, nil)
	rec, err := records.Open(filepath.Join(t.TempDir(), "steps.db"), records.Options{}, nil)
	require.NoError(t, err)
	defer rec.Close()
	mgr := sensor.NewManager(proc, rec, sensor.NewSimulated(), nil, nil)
	eng := New(store, proc, mgr, rec, nil, nil)
	ctx := context.Background()

	store.FailWrites = true
	err = eng.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, CodeStorage, CodeOf(err))
}
