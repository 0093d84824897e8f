// ABOUTME: Tests for the recovery tracker
// ABOUTME: Covers phase projection, monotonic decay, and record side effects

package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenjournal/haven-gateway/internal/store"
)

var testWindows = Windows{
	Acute:       24 * time.Hour,
	Stabilizing: 7 * 24 * time.Hour,
}

func newTestTracker(t *testing.T) (*Tracker, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	tracker := NewTracker(mock, testWindows, nil)
	return tracker, mock
}

func TestPhaseAt(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    Phase
	}{
		{"just happened", time.Minute, PhaseAcute},
		{"end of acute window", 23 * time.Hour, PhaseAcute},
		{"into stabilizing", 25 * time.Hour, PhaseStabilizing},
		{"end of stabilizing", 6 * 24 * time.Hour, PhaseStabilizing},
		{"resolved", 8 * 24 * time.Hour, PhaseResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crisis := now.Add(-tt.elapsed)
			assert.Equal(t, tt.want, PhaseAt(&crisis, now, testWindows))
		})
	}

	assert.Equal(t, PhaseNone, PhaseAt(nil, now, testWindows))
}

func TestPhaseAt_MonotonicDecay(t *testing.T) {
	crisis := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Severity never increases as time passes after a single event
	prev := PhaseAcute
	for hours := 1; hours < 24*14; hours += 6 {
		now := crisis.Add(time.Duration(hours) * time.Hour)
		phase := PhaseAt(&crisis, now, testWindows)
		assert.LessOrEqual(t, phase, prev, "phase escalated at %d hours", hours)
		prev = phase
	}
}

func TestRead_NoHistory(t *testing.T) {
	tracker, _ := newTestTracker(t)

	state, err := tracker.Read(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseNone, state.Phase)
	assert.False(t, state.CooldownActive)
	assert.Nil(t, state.LastCrisisAt)
}

func TestRecordThenRead(t *testing.T) {
	tracker, mock := newTestTracker(t)
	ctx := context.Background()

	err := tracker.Record(ctx, "user-1", Assessment{
		EntryID: "entry-1",
		Score:   0.7,
		Level:   "moderate",
	})
	require.NoError(t, err)

	state, err := tracker.Read(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAcute, state.Phase)
	assert.True(t, state.CooldownActive)
	require.NotNil(t, state.LastCrisisAt)

	// The audit event was persisted too
	events, err := mock.ListCrisisEvents(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "entry-1", events[0].EntryID)
}

func TestRead_PhaseDecaysWithClock(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }
	require.NoError(t, tracker.Record(ctx, "user-1", Assessment{Score: 0.7, Level: "moderate"}))

	tracker.now = func() time.Time { return base.Add(2 * time.Hour) }
	state, err := tracker.Read(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseAcute, state.Phase)

	tracker.now = func() time.Time { return base.Add(3 * 24 * time.Hour) }
	state, err = tracker.Read(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseStabilizing, state.Phase)

	tracker.now = func() time.Time { return base.Add(30 * 24 * time.Hour) }
	state, err = tracker.Read(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseResolved, state.Phase)
}

func TestRecentEventCount(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Record(ctx, "user-1", Assessment{Score: 0.5, Level: "low"}))
	}

	count, err := tracker.RecentEventCount(ctx, "user-1", 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = tracker.RecentEventCount(ctx, "user-2", 72*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, count)
}
