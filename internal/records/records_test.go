package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "steps.db"), opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSum(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	recs := []Record{
		{Timestamp: 1000, SensorTotalSteps: 10, CalculatedSteps: 10, SessionID: "a"},
		{Timestamp: 2000, SensorTotalSteps: 25, CalculatedSteps: 15, SessionID: "a"},
		{Timestamp: 3000, SensorTotalSteps: 30, CalculatedSteps: 5, SessionID: "b"},
	}
	for _, r := range recs {
		require.NoError(t, s.RecordStep(ctx, r))
	}

	total, err := s.StepsBetween(ctx, 1000, 3000)
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)

	// Bounds are inclusive on both ends.
	total, err = s.StepsBetween(ctx, 2000, 2000)
	require.NoError(t, err)
	assert.EqualValues(t, 15, total)

	// Empty window sums to zero.
	total, err = s.StepsBetween(ctx, 4000, 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestInvalidRange(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.StepsBetween(ctx, 2000, 1000)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = s.DetailedStepsBetween(ctx, 2000, 1000)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = s.SessionSummaries(ctx, 2000, 1000)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestDetailedOrdering(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	// Insert out of timestamp order.
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: 3000, CalculatedSteps: 3, SessionID: "a"}))
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: 1000, CalculatedSteps: 1, SessionID: "a"}))
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: 2000, CalculatedSteps: 2, SessionID: "a"}))

	recs, err := s.DetailedStepsBetween(ctx, 0, 4000)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.EqualValues(t, 1000, recs[0].Timestamp)
	assert.EqualValues(t, 2000, recs[1].Timestamp)
	assert.EqualValues(t, 3000, recs[2].Timestamp)
}

func TestSessionSubstitution(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	s.SetActiveSession("current")
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: 1000, CalculatedSteps: 4}))

	recs, err := s.DetailedStepsBetween(ctx, 0, 2000)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "current", recs[0].SessionID)
}

func TestFallbackSessionWhenNoneKnown(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	// No active session tag and none on the record: the write still
	// proceeds under a generated fallback id.
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: 1000, CalculatedSteps: 4}))

	recs, err := s.DetailedStepsBetween(ctx, 0, 2000)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].SessionID)
	assert.Contains(t, recs[0].SessionID, "recovered-")
}

func TestSessionSummaries(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	recs := []Record{
		{Timestamp: 1000, CalculatedSteps: 10, SessionID: "a"},
		{Timestamp: 2000, CalculatedSteps: 20, SessionID: "a"},
		{Timestamp: 3000, CalculatedSteps: 5, SessionID: "b"},
		{Timestamp: 9000, CalculatedSteps: 99, SessionID: "b"}, // outside window
	}
	for _, r := range recs {
		require.NoError(t, s.RecordStep(ctx, r))
	}

	sums, err := s.SessionSummaries(ctx, 0, 5000)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, "a", sums[0].SessionID)
	assert.EqualValues(t, 1000, sums[0].StartTime)
	assert.EqualValues(t, 2000, sums[0].EndTime)
	assert.EqualValues(t, 30, sums[0].TotalSteps)

	assert.Equal(t, "b", sums[1].SessionID)
	assert.EqualValues(t, 3000, sums[1].StartTime)
	assert.EqualValues(t, 3000, sums[1].EndTime)
	assert.EqualValues(t, 5, sums[1].TotalSteps)
}

func TestDeterministicCleanup(t *testing.T) {
	s := openTestStore(t, Options{
		Retention:    24 * time.Hour,
		CleanupEvery: 5,
	})
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	old := base.Add(-48 * time.Hour).UnixMilli()
	fresh := base.Add(-time.Hour).UnixMilli()

	// Four expired inserts: below the trigger, nothing cleaned.
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordStep(ctx, Record{Timestamp: old + int64(i), CalculatedSteps: 1, SessionID: "old"}))
	}
	recs, err := s.DetailedStepsBetween(ctx, 0, base.UnixMilli())
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	// Fifth insert fires the cleanup, removing everything expired.
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: fresh, CalculatedSteps: 1, SessionID: "new"}))

	recs, err = s.DetailedStepsBetween(ctx, 0, base.UnixMilli())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].SessionID, "recent record must survive cleanup")
}

func TestCleanupKeepsRecordsInsideWindow(t *testing.T) {
	s := openTestStore(t, Options{
		Retention:    24 * time.Hour,
		CleanupEvery: 1, // cleanup on every insert
	})
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	justInside := base.Add(-23 * time.Hour).UnixMilli()
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: justInside, CalculatedSteps: 2, SessionID: "s"}))
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: base.UnixMilli(), CalculatedSteps: 3, SessionID: "s"}))

	recs, err := s.DetailedStepsBetween(ctx, 0, base.UnixMilli())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestProbabilisticCleanupConverges(t *testing.T) {
	s := openTestStore(t, Options{
		Retention:     24 * time.Hour,
		Probabilistic: true,
	})
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	old := base.Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, s.RecordStep(ctx, Record{Timestamp: old, CalculatedSteps: 1, SessionID: "old"}))

	// With a 1% trigger, 2000 inserts clean up the expired record with
	// overwhelming probability.
	fresh := base.UnixMilli()
	for i := 0; i < 2000; i++ {
		require.NoError(t, s.RecordStep(ctx, Record{Timestamp: fresh, CalculatedSteps: 0, SessionID: "new"}))
	}

	recs, err := s.DetailedStepsBetween(ctx, old, old)
	require.NoError(t, err)
	assert.Empty(t, recs, "expired record should eventually be removed")
}
