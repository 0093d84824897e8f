// ABOUTME: SQLite implementation for conversation threads and messages
// ABOUTME: Append-only message log plus the nullable flow cursor per thread

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateThread stores a new thread.
// Returns ErrDuplicateThread if a thread with the same ID already exists.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = now
	}

	query := `
		INSERT INTO threads (id, user_id, message_count, active_flow, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var flow sql.NullString
	if thread.ActiveFlow != nil {
		flow = sql.NullString{String: *thread.ActiveFlow, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		thread.ID,
		thread.UserID,
		thread.MessageCount,
		flow,
		thread.CreatedAt.Format(time.RFC3339),
		thread.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	s.logger.Debug("created thread", "id", thread.ID, "user_id", thread.UserID)
	return nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, user_id, message_count, active_flow, created_at, updated_at
		FROM threads
		WHERE id = ?
	`

	var t Thread
	var flow sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.UserID, &t.MessageCount, &flow, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	if flow.Valid {
		t.ActiveFlow = &flow.String
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &t, nil
}

// AppendMessage stores a message and bumps the thread's message count.
// Messages are append-only; nothing ever updates or deletes them.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		message.ID,
		message.ThreadID,
		message.Role,
		message.Content,
		message.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	bump := `
		UPDATE threads
		SET message_count = message_count + 1, updated_at = ?
		WHERE id = ?
	`
	if _, err := s.db.ExecContext(ctx, bump,
		time.Now().UTC().Format(time.RFC3339), message.ThreadID); err != nil {
		return fmt.Errorf("updating message count: %w", err)
	}

	return nil
}

// GetMessages retrieves a thread's messages in chronological order,
// at most limit rows. A limit of 0 means no limit.
func (s *SQLiteStore) GetMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, thread_id, role, content, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC
	`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		var m Message
		var createdAt string

		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		messages = append(messages, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// SetActiveFlow overwrites the thread's flow cursor. Passing nil clears it.
// Last write wins; single-flight per thread is assumed at the client.
func (s *SQLiteStore) SetActiveFlow(ctx context.Context, threadID string, flow *string) error {
	var value sql.NullString
	if flow != nil {
		value = sql.NullString{String: *flow, Valid: true}
	}

	query := `
		UPDATE threads
		SET active_flow = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		value, time.Now().UTC().Format(time.RFC3339), threadID)
	if err != nil {
		return fmt.Errorf("setting active flow: %w", err)
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
