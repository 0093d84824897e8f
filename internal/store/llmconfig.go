// ABOUTME: SQLite implementation for per-user model overrides
// ABOUTME: Stores validated provider/model selections with sealed API keys

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetLLMConfig retrieves a user's model override.
// Returns ErrNotFound if the user has no override.
func (s *SQLiteStore) GetLLMConfig(ctx context.Context, userID string) (*LLMConfig, error) {
	query := `
		SELECT user_id, provider, model_id, api_key_sealed, use_project_key, account_id, updated_at
		FROM llm_configs
		WHERE user_id = ?
	`

	var cfg LLMConfig
	var sealed, accountID sql.NullString
	var useProjectKey int
	var updatedAt string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&cfg.UserID, &cfg.Provider, &cfg.ModelID, &sealed, &useProjectKey, &accountID, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying llm config: %w", err)
	}

	if sealed.Valid {
		cfg.APIKeySealed = sealed.String
	}
	if accountID.Valid {
		cfg.AccountID = accountID.String
	}
	cfg.UseProjectKey = useProjectKey != 0
	if cfg.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &cfg, nil
}

// PutLLMConfig upserts a user's model override. Callers must have
// validated the config against the provider before persisting it.
func (s *SQLiteStore) PutLLMConfig(ctx context.Context, cfg *LLMConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO llm_configs (user_id, provider, model_id, api_key_sealed, use_project_key, account_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE
		SET provider = excluded.provider,
		    model_id = excluded.model_id,
		    api_key_sealed = excluded.api_key_sealed,
		    use_project_key = excluded.use_project_key,
		    account_id = excluded.account_id,
		    updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		cfg.UserID,
		cfg.Provider,
		cfg.ModelID,
		nullString(cfg.APIKeySealed),
		boolToInt(cfg.UseProjectKey),
		nullString(cfg.AccountID),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving llm config: %w", err)
	}

	s.logger.Debug("saved llm config",
		"user_id", cfg.UserID,
		"provider", cfg.Provider,
		"model_id", cfg.ModelID,
	)
	return nil
}

// DeleteLLMConfig removes a user's model override, reverting them to
// tier-based defaults.
func (s *SQLiteStore) DeleteLLMConfig(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM llm_configs WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting llm config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
