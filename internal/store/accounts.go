// ABOUTME: SQLite implementation for user account documents
// ABOUTME: Lazy account creation, tier/exempt updates, and trial admission

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsureAccount returns the account for userID, creating it with the
// default FREE tier when it does not exist yet.
func (s *SQLiteStore) EnsureAccount(ctx context.Context, userID string, anonymous bool) (*UserAccount, error) {
	account, err := s.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO accounts (user_id, tier, anonymous, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		userID, TierFree, boolToInt(anonymous),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "user_id", userID, "anonymous", anonymous)
	return s.GetAccount(ctx, userID)
}

// GetAccount retrieves an account by user ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*UserAccount, error) {
	query := `
		SELECT user_id, tier, anonymous, exempt, unlocked, trial_requests_used,
		       created_at, updated_at
		FROM accounts
		WHERE user_id = ?
	`

	var a UserAccount
	var anonymous, exempt, unlocked int
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&a.UserID, &a.Tier, &anonymous, &exempt, &unlocked,
		&a.TrialRequestsUsed, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.Anonymous = anonymous != 0
	a.Exempt = exempt != 0
	a.Unlocked = unlocked != 0

	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &a, nil
}

// UpdateAccount overwrites the mutable fields of an account.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, account *UserAccount) error {
	query := `
		UPDATE accounts
		SET tier = ?, anonymous = ?, exempt = ?, unlocked = ?, updated_at = ?
		WHERE user_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		account.Tier,
		boolToInt(account.Anonymous),
		boolToInt(account.Exempt),
		boolToInt(account.Unlocked),
		time.Now().UTC().Format(time.RFC3339),
		account.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated account", "user_id", account.UserID, "tier", account.Tier)
	return nil
}

// IncrementTrialUsed admits one trial request for an anonymous account.
// The check and increment happen in a single statement so a rapid
// double-submit cannot consume the last trial slot twice.
func (s *SQLiteStore) IncrementTrialUsed(ctx context.Context, userID string, limit int) (*Admission, error) {
	query := `
		UPDATE accounts
		SET trial_requests_used = trial_requests_used + 1, updated_at = ?
		WHERE user_id = ? AND trial_requests_used < ?
	`

	result, err := s.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("incrementing trial usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT trial_requests_used FROM accounts WHERE user_id = ?`, userID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading trial usage: %w", err)
	}

	return &Admission{Allowed: rows == 1, Count: count}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
