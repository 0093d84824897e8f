// ABOUTME: SQLite implementation for intervention, recovery, and crisis audit state
// ABOUTME: Per-user upsert documents plus an append-only crisis event log

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetIntervention retrieves the intervention record for a user.
// Returns ErrNotFound if the user has never had a crisis detected.
func (s *SQLiteStore) GetIntervention(ctx context.Context, userID string) (*InterventionRecord, error) {
	query := `
		SELECT user_id, level, limited_mode_until, last_crisis_at, updated_at
		FROM interventions
		WHERE user_id = ?
	`

	var rec InterventionRecord
	var limitedUntil, lastCrisis sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.Level, &limitedUntil, &lastCrisis, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying intervention: %w", err)
	}

	if rec.LimitedModeUntil, err = parseNullTime(limitedUntil); err != nil {
		return nil, err
	}
	if rec.LastCrisisAt, err = parseNullTime(lastCrisis); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

// SaveIntervention upserts the intervention record for a user.
func (s *SQLiteStore) SaveIntervention(ctx context.Context, record *InterventionRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO interventions (user_id, level, limited_mode_until, last_crisis_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE
		SET level = excluded.level,
		    limited_mode_until = excluded.limited_mode_until,
		    last_crisis_at = excluded.last_crisis_at,
		    updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.UserID,
		record.Level,
		nullTime(record.LimitedModeUntil),
		nullTime(record.LastCrisisAt),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving intervention: %w", err)
	}

	s.logger.Debug("saved intervention", "user_id", record.UserID, "level", record.Level)
	return nil
}

// GetRecovery retrieves the recovery record for a user.
// Returns ErrNotFound if no crisis has ever been recorded.
func (s *SQLiteStore) GetRecovery(ctx context.Context, userID string) (*RecoveryRecord, error) {
	query := `
		SELECT user_id, cooldown_active, last_crisis_at, updated_at
		FROM recovery
		WHERE user_id = ?
	`

	var rec RecoveryRecord
	var cooldown int
	var lastCrisis sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &cooldown, &lastCrisis, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying recovery: %w", err)
	}

	rec.CooldownActive = cooldown != 0
	if rec.LastCrisisAt, err = parseNullTime(lastCrisis); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &rec, nil
}

// SaveRecovery upserts the recovery record for a user.
func (s *SQLiteStore) SaveRecovery(ctx context.Context, record *RecoveryRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO recovery (user_id, cooldown_active, last_crisis_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE
		SET cooldown_active = excluded.cooldown_active,
		    last_crisis_at = excluded.last_crisis_at,
		    updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.UserID,
		boolToInt(record.CooldownActive),
		nullTime(record.LastCrisisAt),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving recovery: %w", err)
	}

	return nil
}

// AppendCrisisEvent stores a crisis audit record.
func (s *SQLiteStore) AppendCrisisEvent(ctx context.Context, event *CrisisEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO crisis_events (id, user_id, entry_id, score, level, detected_patterns, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		nullString(event.EntryID),
		event.Score,
		event.Level,
		joinPatterns(event.DetectedPatterns),
		event.Confidence,
		event.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting crisis event: %w", err)
	}

	s.logger.Debug("appended crisis event",
		"id", event.ID,
		"user_id", event.UserID,
		"level", event.Level,
		"score", event.Score,
	)
	return nil
}

// ListCrisisEvents returns a user's crisis events most-recent-first,
// at most limit rows.
func (s *SQLiteStore) ListCrisisEvents(ctx context.Context, userID string, limit int) ([]*CrisisEvent, error) {
	query := `
		SELECT id, user_id, entry_id, score, level, detected_patterns, confidence, created_at
		FROM crisis_events
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying crisis events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*CrisisEvent
	for rows.Next() {
		var ev CrisisEvent
		var entryID sql.NullString
		var patterns string
		var createdAt string

		err := rows.Scan(&ev.ID, &ev.UserID, &entryID, &ev.Score, &ev.Level,
			&patterns, &ev.Confidence, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning crisis event: %w", err)
		}

		if entryID.Valid {
			ev.EntryID = entryID.String
		}
		ev.DetectedPatterns = splitPatterns(patterns)
		if ev.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating crisis events: %w", err)
	}

	return events, nil
}

// CountCrisisEventsSince counts a user's crisis events at or after the
// given time. Used for repeat-hit escalation within the cooldown window.
func (s *SQLiteStore) CountCrisisEventsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM crisis_events
		WHERE user_id = ? AND created_at >= ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting crisis events: %w", err)
	}

	return count, nil
}
