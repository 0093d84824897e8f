// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides per-user admission state persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Wait out writer contention instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'FREE',
			anonymous INTEGER NOT NULL DEFAULT 0,
			exempt INTEGER NOT NULL DEFAULT 0,
			unlocked INTEGER NOT NULL DEFAULT 0,
			trial_requests_used INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS daily_usage (
			user_id TEXT PRIMARY KEY,
			day TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS minute_usage (
			user_id TEXT PRIMARY KEY,
			window_start INTEGER NOT NULL,
			count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS entry_analysis_usage (
			user_id TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, entry_id)
		);

		CREATE TABLE IF NOT EXISTS thread_message_usage (
			user_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, thread_id)
		);

		CREATE TABLE IF NOT EXISTS interventions (
			user_id TEXT PRIMARY KEY,
			level INTEGER NOT NULL DEFAULT 0,
			limited_mode_until DATETIME,
			last_crisis_at DATETIME,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS recovery (
			user_id TEXT PRIMARY KEY,
			cooldown_active INTEGER NOT NULL DEFAULT 0,
			last_crisis_at DATETIME,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS crisis_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entry_id TEXT,
			score REAL NOT NULL,
			level TEXT NOT NULL,
			detected_patterns TEXT,
			confidence REAL NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_crisis_events_user_created
			ON crisis_events(user_id, created_at);

		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			active_flow TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_threads_user_id
			ON threads(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_thread_id
			ON messages(thread_id);

		CREATE TABLE IF NOT EXISTS llm_configs (
			user_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_id TEXT NOT NULL,
			api_key_sealed TEXT,
			use_project_key INTEGER NOT NULL DEFAULT 0,
			account_id TEXT,
			updated_at DATETIME NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to a NULL-able sql value
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a nil time pointer to a NULL-able RFC3339 string
func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// parseNullTime converts a NULL-able RFC3339 string back to a time pointer
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}

// joinPatterns serializes a pattern list for storage
func joinPatterns(patterns []string) string {
	return strings.Join(patterns, "\n")
}

// splitPatterns deserializes a stored pattern list
func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// isConstraintViolation reports whether err is a uniqueness violation
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ensure SQLiteStore implements the full Store interface.
var _ Store = (*SQLiteStore)(nil)
