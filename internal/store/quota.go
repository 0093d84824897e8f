// ABOUTME: SQLite implementation for quota counters with atomic admission
// ABOUTME: Daily pool, per-minute window, and legacy scoped counters

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementDaily admits one request against the unified daily pool.
// The counter is lazily reset when the stored day differs from the given
// day; the check-and-increment is a single conditional UPDATE so two
// concurrent requests cannot both take the last slot.
func (s *SQLiteStore) IncrementDaily(ctx context.Context, userID, day string, limit int) (*Admission, error) {
	upsert := `
		INSERT INTO daily_usage (user_id, day, count)
		VALUES (?, ?, 0)
		ON CONFLICT(user_id) DO UPDATE
		SET day = excluded.day, count = 0
		WHERE daily_usage.day <> excluded.day
	`
	if _, err := s.db.ExecContext(ctx, upsert, userID, day); err != nil {
		return nil, fmt.Errorf("resetting daily window: %w", err)
	}

	admit := `
		UPDATE daily_usage
		SET count = count + 1
		WHERE user_id = ? AND day = ? AND count < ?
	`
	result, err := s.db.ExecContext(ctx, admit, userID, day, limit)
	if err != nil {
		return nil, fmt.Errorf("incrementing daily usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT count FROM daily_usage WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("reading daily usage: %w", err)
	}

	return &Admission{Allowed: rows == 1, Count: count}, nil
}

// IncrementMinute admits one request against the per-minute spam guard.
// The window resets once 60 seconds have elapsed since window_start.
func (s *SQLiteStore) IncrementMinute(ctx context.Context, userID string, now time.Time, limit int) (*Admission, error) {
	nowUnix := now.UTC().Unix()

	upsert := `
		INSERT INTO minute_usage (user_id, window_start, count)
		VALUES (?, ?, 0)
		ON CONFLICT(user_id) DO UPDATE
		SET window_start = excluded.window_start, count = 0
		WHERE excluded.window_start - minute_usage.window_start >= 60
	`
	if _, err := s.db.ExecContext(ctx, upsert, userID, nowUnix); err != nil {
		return nil, fmt.Errorf("resetting minute window: %w", err)
	}

	admit := `
		UPDATE minute_usage
		SET count = count + 1
		WHERE user_id = ? AND count < ?
	`
	result, err := s.db.ExecContext(ctx, admit, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("incrementing minute usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	var count int
	var windowStart int64
	err = s.db.QueryRowContext(ctx,
		`SELECT count, window_start FROM minute_usage WHERE user_id = ?`, userID,
	).Scan(&count, &windowStart)
	if err != nil {
		return nil, fmt.Errorf("reading minute usage: %w", err)
	}

	return &Admission{
		Allowed:     rows == 1,
		Count:       count,
		WindowStart: time.Unix(windowStart, 0).UTC(),
	}, nil
}

// IncrementEntryAnalysis admits one analysis run against the per-entry
// ceiling. Kept for backward compatibility with pre-unified-pool clients.
func (s *SQLiteStore) IncrementEntryAnalysis(ctx context.Context, userID, entryID string, limit int) (*Admission, error) {
	return s.incrementScoped(ctx, "entry_analysis_usage", "entry_id", userID, entryID, limit)
}

// IncrementThreadMessages admits one message against the per-thread
// ceiling. Kept for backward compatibility with pre-unified-pool clients.
func (s *SQLiteStore) IncrementThreadMessages(ctx context.Context, userID, threadID string, limit int) (*Admission, error) {
	return s.incrementScoped(ctx, "thread_message_usage", "thread_id", userID, threadID, limit)
}

// incrementScoped runs the shared conditional increment for the legacy
// (user, scope) counters. Table and column names are fixed constants at
// the two call sites, never user input.
func (s *SQLiteStore) incrementScoped(ctx context.Context, table, scopeCol, userID, scopeID string, limit int) (*Admission, error) {
	upsert := fmt.Sprintf(`
		INSERT INTO %s (user_id, %s, count)
		VALUES (?, ?, 0)
		ON CONFLICT(user_id, %s) DO NOTHING
	`, table, scopeCol, scopeCol)
	if _, err := s.db.ExecContext(ctx, upsert, userID, scopeID); err != nil {
		return nil, fmt.Errorf("initializing scoped usage: %w", err)
	}

	admit := fmt.Sprintf(`
		UPDATE %s
		SET count = count + 1
		WHERE user_id = ? AND %s = ? AND count < ?
	`, table, scopeCol)
	result, err := s.db.ExecContext(ctx, admit, userID, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("incrementing scoped usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	var count int
	query := fmt.Sprintf(`SELECT count FROM %s WHERE user_id = ? AND %s = ?`, table, scopeCol)
	if err := s.db.QueryRowContext(ctx, query, userID, scopeID).Scan(&count); err != nil {
		return nil, fmt.Errorf("reading scoped usage: %w", err)
	}

	return &Admission{Allowed: rows == 1, Count: count}, nil
}

// GetUsage returns a read-only snapshot of the user's daily and minute
// counters for the usage endpoint.
func (s *SQLiteStore) GetUsage(ctx context.Context, userID string) (*UsageSnapshot, error) {
	snap := &UsageSnapshot{UserID: userID}

	err := s.db.QueryRowContext(ctx,
		`SELECT day, count FROM daily_usage WHERE user_id = ?`, userID,
	).Scan(&snap.Day, &snap.DailyCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading daily usage: %w", err)
	}

	var windowStart int64
	err = s.db.QueryRowContext(ctx,
		`SELECT window_start, count FROM minute_usage WHERE user_id = ?`, userID,
	).Scan(&windowStart, &snap.MinuteCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading minute usage: %w", err)
	}
	if windowStart > 0 {
		snap.WindowStart = time.Unix(windowStart, 0).UTC()
	}

	return snap, nil
}
