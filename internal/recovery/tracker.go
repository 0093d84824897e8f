// ABOUTME: Recovery tracker with pure time-based phase projection
// ABOUTME: Records crisis events and reads back a decaying RecoveryState

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/havenjournal/haven-gateway/internal/store"
)

// Phase is the recovery phase, ordered by severity.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseResolved
	PhaseStabilizing
	PhaseAcute
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAcute:
		return "acute"
	case PhaseStabilizing:
		return "stabilizing"
	case PhaseResolved:
		return "resolved"
	default:
		return "none"
	}
}

// Windows holds the decay thresholds. A crisis is acute for AcuteWindow,
// stabilizing until StabilizingWindow, resolved after that.
type Windows struct {
	Acute       time.Duration
	Stabilizing time.Duration
}

// State is the projected recovery state for a user.
type State struct {
	CooldownActive bool
	Phase          Phase
	LastCrisisAt   *time.Time
}

// Assessment is the slice of a crisis assessment the tracker records.
type Assessment struct {
	EntryID          string
	Score            float64
	Level            string
	DetectedPatterns []string
	Confidence       float64
}

// Tracker records crisis events and projects recovery state.
type Tracker struct {
	store   store.SafetyStore
	windows Windows
	logger  *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a Tracker with the given decay windows.
func NewTracker(s store.SafetyStore, windows Windows, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   s,
		windows: windows,
		logger:  logger.With("component", "recovery"),
		now:     time.Now,
	}
}

// Record appends a crisis event and resets the cooldown clock. This is the
// only operation with side effects; reads never mutate anything.
func (t *Tracker) Record(ctx context.Context, userID string, a Assessment) error {
	now := t.now().UTC()

	event := &store.CrisisEvent{
		UserID:           userID,
		EntryID:          a.EntryID,
		Score:            a.Score,
		Level:            a.Level,
		DetectedPatterns: a.DetectedPatterns,
		Confidence:       a.Confidence,
		CreatedAt:        now,
	}
	if err := t.store.AppendCrisisEvent(ctx, event); err != nil {
		return fmt.Errorf("appending crisis event: %w", err)
	}

	record := &store.RecoveryRecord{
		UserID:         userID,
		CooldownActive: true,
		LastCrisisAt:   &now,
	}
	if err := t.store.SaveRecovery(ctx, record); err != nil {
		return fmt.Errorf("saving recovery record: %w", err)
	}

	t.logger.Info("recorded crisis event",
		"user_id", userID,
		"level", a.Level,
		"score", a.Score,
	)
	return nil
}

// Read projects the current recovery state for a user. Never has side
// effects; the phase comes from PhaseAt, not from anything stored.
func (t *Tracker) Read(ctx context.Context, userID string) (*State, error) {
	record, err := t.store.GetRecovery(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &State{Phase: PhaseNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading recovery record: %w", err)
	}

	phase := PhaseAt(record.LastCrisisAt, t.now(), t.windows)
	return &State{
		CooldownActive: record.CooldownActive && phase != PhaseNone,
		Phase:          phase,
		LastCrisisAt:   record.LastCrisisAt,
	}, nil
}

// RecentEventCount counts crisis events recorded within the given window,
// used by the intervention resolver for repeat-hit escalation.
func (t *Tracker) RecentEventCount(ctx context.Context, userID string, window time.Duration) (int, error) {
	since := t.now().Add(-window)
	count, err := t.store.CountCrisisEventsSince(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("counting recent events: %w", err)
	}
	return count, nil
}

// PhaseAt computes the recovery phase for a crisis at lastCrisis observed
// at now. Pure; safe to call without a tracker.
func PhaseAt(lastCrisis *time.Time, now time.Time, windows Windows) Phase {
	if lastCrisis == nil {
		return PhaseNone
	}

	elapsed := now.Sub(*lastCrisis)
	switch {
	case elapsed < windows.Acute:
		return PhaseAcute
	case elapsed < windows.Stabilizing:
		return PhaseStabilizing
	default:
		return PhaseResolved
	}
}
