// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers accounts, quota admission, safety records, threads, and llm configs

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureAccount_CreatesWithDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account, err := s.EnsureAccount(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, "user-1", account.UserID)
	assert.Equal(t, TierFree, account.Tier)
	assert.False(t, account.Anonymous)
	assert.False(t, account.Exempt)
	assert.Zero(t, account.TrialRequestsUsed)
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureAccount(ctx, "user-1", true)
	require.NoError(t, err)

	// Second call must return the same account, not recreate it
	require.NoError(t, s.UpdateAccount(ctx, &UserAccount{UserID: "user-1", Tier: TierPaid, Anonymous: true}))
	second, err := s.EnsureAccount(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, TierPaid, second.Tier)
	assert.Equal(t, first.UserID, second.UserID)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementTrialUsed_StopsAtLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureAccount(ctx, "anon-1", true)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		adm, err := s.IncrementTrialUsed(ctx, "anon-1", 3)
		require.NoError(t, err)
		assert.True(t, adm.Allowed)
		assert.Equal(t, i, adm.Count)
	}

	adm, err := s.IncrementTrialUsed(ctx, "anon-1", 3)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 3, adm.Count)
}

func TestIncrementDaily_AdmitsUpToLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		adm, err := s.IncrementDaily(ctx, "user-1", "2026-08-31", 5)
		require.NoError(t, err)
		assert.True(t, adm.Allowed)
		assert.Equal(t, i, adm.Count)
	}

	adm, err := s.IncrementDaily(ctx, "user-1", "2026-08-31", 5)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 5, adm.Count)
}

func TestIncrementDaily_DayRolloverResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.IncrementDaily(ctx, "user-1", "2026-08-30", 5)
		require.NoError(t, err)
	}
	adm, err := s.IncrementDaily(ctx, "user-1", "2026-08-30", 5)
	require.NoError(t, err)
	require.False(t, adm.Allowed)

	// Next day: counter resets and the first request is admitted with count 1
	adm, err = s.IncrementDaily(ctx, "user-1", "2026-08-31", 5)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 1, adm.Count)
}

func TestIncrementDaily_ConcurrentLastSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.IncrementDaily(ctx, "user-1", "2026-08-31", 5)
		require.NoError(t, err)
	}

	// Two concurrent requests race for the single remaining slot
	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm, err := s.IncrementDaily(ctx, "user-1", "2026-08-31", 5)
			require.NoError(t, err)
			results[i] = adm.Allowed
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, r := range results {
		if r {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed, "exactly one of two concurrent requests may take the last slot")
}

func TestIncrementMinute_WindowResets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		adm, err := s.IncrementMinute(ctx, "user-1", base, 3)
		require.NoError(t, err)
		require.True(t, adm.Allowed)
	}
	adm, err := s.IncrementMinute(ctx, "user-1", base.Add(30*time.Second), 3)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)

	// 60 seconds after the window opened, the counter resets
	adm, err = s.IncrementMinute(ctx, "user-1", base.Add(61*time.Second), 3)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 1, adm.Count)
}

func TestIncrementScoped_Ceilings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		adm, err := s.IncrementEntryAnalysis(ctx, "user-1", "entry-1", 3)
		require.NoError(t, err)
		assert.True(t, adm.Allowed)
	}
	adm, err := s.IncrementEntryAnalysis(ctx, "user-1", "entry-1", 3)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)

	// Different entry has its own counter
	adm, err = s.IncrementEntryAnalysis(ctx, "user-1", "entry-2", 3)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	// Thread counters are independent of entry counters
	adm, err = s.IncrementThreadMessages(ctx, "user-1", "thread-1", 2)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}

func TestGetUsage_Snapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.IncrementDaily(ctx, "user-1", "2026-08-31", 50)
	require.NoError(t, err)
	_, err = s.IncrementDaily(ctx, "user-1", "2026-08-31", 50)
	require.NoError(t, err)
	_, err = s.IncrementMinute(ctx, "user-1", time.Now(), 4)
	require.NoError(t, err)

	snap, err := s.GetUsage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-31", snap.Day)
	assert.Equal(t, 2, snap.DailyCount)
	assert.Equal(t, 1, snap.MinuteCount)
}

func TestSaveAndGetIntervention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	until := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	crisis := time.Now().UTC().Truncate(time.Second)
	rec := &InterventionRecord{
		UserID:           "user-1",
		Level:            3,
		LimitedModeUntil: &until,
		LastCrisisAt:     &crisis,
	}
	require.NoError(t, s.SaveIntervention(ctx, rec))

	got, err := s.GetIntervention(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Level)
	require.NotNil(t, got.LimitedModeUntil)
	assert.True(t, got.LimitedModeUntil.Equal(until))

	// Upsert overwrites
	rec.Level = 0
	rec.LimitedModeUntil = nil
	require.NoError(t, s.SaveIntervention(ctx, rec))
	got, err = s.GetIntervention(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Level)
	assert.Nil(t, got.LimitedModeUntil)
}

func TestSaveAndGetRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	crisis := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveRecovery(ctx, &RecoveryRecord{
		UserID:         "user-1",
		CooldownActive: true,
		LastCrisisAt:   &crisis,
	}))

	got, err := s.GetRecovery(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.CooldownActive)
	require.NotNil(t, got.LastCrisisAt)
	assert.True(t, got.LastCrisisAt.Equal(crisis))
}

func TestCrisisEvents_ListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendCrisisEvent(ctx, &CrisisEvent{
			UserID:           "user-1",
			EntryID:          "entry-1",
			Score:            0.7,
			Level:            "moderate",
			DetectedPatterns: []string{"pattern-a", "pattern-b"},
			Confidence:       0.9,
			CreatedAt:        base.Add(time.Duration(i) * time.Hour),
		}))
	}

	events, err := s.ListCrisisEvents(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Most recent first
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))
	assert.Equal(t, []string{"pattern-a", "pattern-b"}, events[0].DetectedPatterns)

	count, err := s.CountCrisisEventsSince(ctx, "user-1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestThreads_CreateAppendAndFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	thread := &Thread{ID: "thread-1", UserID: "user-1"}
	require.NoError(t, s.CreateThread(ctx, thread))
	assert.ErrorIs(t, s.CreateThread(ctx, &Thread{ID: "thread-1", UserID: "user-1"}), ErrDuplicateThread)

	require.NoError(t, s.AppendMessage(ctx, &Message{
		ThreadID: "thread-1", Role: RoleUser, Content: "hello",
	}))
	require.NoError(t, s.AppendMessage(ctx, &Message{
		ThreadID: "thread-1", Role: RoleAssistant, Content: "hi there",
	}))

	got, err := s.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Nil(t, got.ActiveFlow)

	msgs, err := s.GetMessages(ctx, "thread-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)

	flow := `{"step":"await_provider"}`
	require.NoError(t, s.SetActiveFlow(ctx, "thread-1", &flow))
	got, err = s.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, got.ActiveFlow)
	assert.Equal(t, flow, *got.ActiveFlow)

	require.NoError(t, s.SetActiveFlow(ctx, "thread-1", nil))
	got, err = s.GetThread(ctx, "thread-1")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveFlow)

	assert.ErrorIs(t, s.SetActiveFlow(ctx, "missing", nil), ErrNotFound)
}

func TestLLMConfig_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetLLMConfig(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &LLMConfig{
		UserID:       "user-1",
		Provider:     "groq",
		ModelID:      "llama-3.3-70b-versatile",
		APIKeySealed: "sealed-blob",
	}
	require.NoError(t, s.PutLLMConfig(ctx, cfg))

	got, err := s.GetLLMConfig(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "groq", got.Provider)
	assert.Equal(t, "sealed-blob", got.APIKeySealed)
	assert.False(t, got.UseProjectKey)

	// Overwrite switches to project key
	cfg.APIKeySealed = ""
	cfg.UseProjectKey = true
	require.NoError(t, s.PutLLMConfig(ctx, cfg))
	got, err = s.GetLLMConfig(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.UseProjectKey)
	assert.Empty(t, got.APIKeySealed)

	require.NoError(t, s.DeleteLLMConfig(ctx, "user-1"))
	_, err = s.GetLLMConfig(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
