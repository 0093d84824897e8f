// ABOUTME: Intervention level resolver: maps crisis assessments to levels 0-3
// ABOUTME: Applies recovery hysteresis, repeat-hit escalation, and limited mode

package intervention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/havenjournal/haven-gateway/internal/recovery"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// Intervention levels
const (
	LevelNone        = 0
	LevelStandard    = 1
	LevelAckRequired = 2
	LevelLimited     = 3
)

// Assessment is the external classifier's output for one text input.
type Assessment struct {
	Score            float64
	Level            string // none, low, moderate, high
	DetectedPatterns []string
	Confidence       float64
}

// Bands holds the score thresholds and escalation tuning. All values come
// from configuration.
type Bands struct {
	Low      float64
	Elevated float64
	Severe   float64

	// RepeatCount standard-band hits within CooldownWindow escalate to
	// limited mode.
	RepeatCount    int
	CooldownWindow time.Duration

	LimitedModeDuration time.Duration
}

// Decision is the resolver's verdict for one request. Levels 1-3 block the
// model call; only level 0 proceeds to routing.
type Decision struct {
	Level            int
	Response         string
	CrisisDetected   bool
	CrisisLevel      string
	RequiresAck      bool
	LimitedMode      bool
	LimitedModeUntil *time.Time
}

// Blocking reports whether this decision prevents the model call.
func (d *Decision) Blocking() bool {
	return d.Level > LevelNone
}

// Resolver is the per-user crisis escalation state machine.
type Resolver struct {
	store   store.SafetyStore
	tracker *recovery.Tracker
	bands   Bands
	logger  *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewResolver creates a Resolver with the given thresholds.
func NewResolver(s store.SafetyStore, tracker *recovery.Tracker, bands Bands, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   s,
		tracker: tracker,
		bands:   bands,
		logger:  logger.With("component", "intervention"),
		now:     time.Now,
	}
}

// Active returns a limited-mode decision when the user is inside an active
// limited-mode window, nil otherwise. Expiry is lazy: once the deadline
// passes the state reads as level 0 without any background sweep.
func (r *Resolver) Active(ctx context.Context, userID string) (*Decision, error) {
	record, err := r.store.GetIntervention(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if record.Level != LevelLimited || record.LimitedModeUntil == nil {
		return nil, nil
	}
	if !r.now().Before(*record.LimitedModeUntil) {
		return nil, nil
	}

	until := *record.LimitedModeUntil
	return &Decision{
		Level:            LevelLimited,
		Response:         limitedTemplate,
		LimitedMode:      true,
		LimitedModeUntil: &until,
	}, nil
}

// Resolve applies an assessment for one request and returns the decision.
// Side effects (recovery recording, intervention persistence) happen only
// for levels 1-3. Store failures inside a crisis resolution never downgrade
// the level; they are logged and the blocking decision stands.
func (r *Resolver) Resolve(ctx context.Context, userID, entryID string, a Assessment) (*Decision, error) {
	if a.Score < r.bands.Low {
		return &Decision{Level: LevelNone, CrisisLevel: a.Level}, nil
	}

	level := r.classify(ctx, userID, a)
	decision := r.decisionFor(level, a)

	r.persist(ctx, userID, entryID, a, decision)

	r.logger.Info("crisis intervention",
		"user_id", userID,
		"level", level,
		"score", a.Score,
		"classifier_level", a.Level,
	)
	return decision, nil
}

// ResolveFailClosed returns the safe default decision used when the
// classifier itself fails: level 1, standard template, no model call.
func (r *Resolver) ResolveFailClosed(userID string) *Decision {
	r.logger.Warn("classifier unavailable, failing closed to standard intervention",
		"user_id", userID)
	return &Decision{
		Level:          LevelStandard,
		Response:       standardTemplate,
		CrisisDetected: true,
		CrisisLevel:    "unknown",
	}
}

// classify maps the score bands plus hysteresis onto a level.
func (r *Resolver) classify(ctx context.Context, userID string, a Assessment) int {
	if a.Score >= r.bands.Severe {
		return LevelLimited
	}
	if a.Score >= r.bands.Elevated {
		return LevelAckRequired
	}

	// Standard band. Repeated hits inside the cooldown window escalate to
	// limited mode; an acute recovery phase escalates to ack-required.
	recent, err := r.tracker.RecentEventCount(ctx, userID, r.bands.CooldownWindow)
	if err != nil {
		r.logger.Error("counting recent crisis events failed", "user_id", userID, "error", err)
		recent = 0
	}
	if recent+1 >= r.bands.RepeatCount {
		return LevelLimited
	}

	state, err := r.tracker.Read(ctx, userID)
	if err != nil {
		r.logger.Error("reading recovery state failed", "user_id", userID, "error", err)
		return LevelStandard
	}
	if state.Phase == recovery.PhaseAcute {
		return LevelAckRequired
	}

	return LevelStandard
}

// decisionFor builds the user-facing decision for a level.
func (r *Resolver) decisionFor(level int, a Assessment) *Decision {
	d := &Decision{
		Level:          level,
		CrisisDetected: true,
		CrisisLevel:    a.Level,
	}

	switch level {
	case LevelStandard:
		d.Response = standardTemplate
	case LevelAckRequired:
		d.Response = ackTemplate
		d.RequiresAck = true
	case LevelLimited:
		until := r.now().UTC().Add(r.bands.LimitedModeDuration)
		d.Response = limitedTemplate
		d.LimitedMode = true
		d.LimitedModeUntil = &until
	}

	return d
}

// persist records the event and the intervention document. Errors are
// logged, not returned: a store fault must not soften a crisis decision.
func (r *Resolver) persist(ctx context.Context, userID, entryID string, a Assessment, d *Decision) {
	err := r.tracker.Record(ctx, userID, recovery.Assessment{
		EntryID:          entryID,
		Score:            a.Score,
		Level:            a.Level,
		DetectedPatterns: a.DetectedPatterns,
		Confidence:       a.Confidence,
	})
	if err != nil {
		r.logger.Error("recording crisis event failed", "user_id", userID, "error", err)
	}

	now := r.now().UTC()
	record := &store.InterventionRecord{
		UserID:           userID,
		Level:            d.Level,
		LimitedModeUntil: d.LimitedModeUntil,
		LastCrisisAt:     &now,
	}
	if err := r.store.SaveIntervention(ctx, record); err != nil {
		r.logger.Error("saving intervention record failed", "user_id", userID, "error", err)
	}
}
