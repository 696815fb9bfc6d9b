// Package repository provides data access for session resume state.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/claude-bridge/backend/internal/model"
)

// ResumeState is what survives a session's process: enough to restart the
// agent in the same working directory and continue the same conversation.
type ResumeState struct {
	ID               string
	WorkingDirectory string
	ConversationID   string
	Model            string
	PermissionMode   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ResumeRepository persists resume state in SQLite.
type ResumeRepository struct {
	db *sql.DB
}

// NewResumeRepository creates a new ResumeRepository.
func NewResumeRepository(db *sql.DB) *ResumeRepository {
	return &ResumeRepository{db: db}
}

// Save inserts or replaces the resume state for a session.
func (r *ResumeRepository) Save(ctx context.Context, state *ResumeState) error {
	query := `
		INSERT INTO sessions (id, working_directory, conversation_id, model, permission_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			working_directory = excluded.working_directory,
			conversation_id = excluded.conversation_id,
			model = excluded.model,
			permission_mode = excluded.permission_mode,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		state.ID,
		state.WorkingDirectory,
		nullString(state.ConversationID),
		nullString(state.Model),
		nullString(state.PermissionMode),
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resume state: %w", err)
	}

	return nil
}

// UpdateConversationID records the agent's conversation id once the
// subprocess reports it.
func (r *ResumeRepository) UpdateConversationID(ctx context.Context, id, conversationID string) error {
	query := `
		UPDATE sessions
		SET conversation_id = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// Get retrieves the resume state for a session.
func (r *ResumeRepository) Get(ctx context.Context, id string) (*ResumeState, error) {
	query := `
		SELECT id, working_directory, conversation_id, model, permission_mode, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`

	state := &ResumeState{}
	var conversationID sql.NullString
	var modelName sql.NullString
	var permissionMode sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&state.ID,
		&state.WorkingDirectory,
		&conversationID,
		&modelName,
		&permissionMode,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resume state: %w", err)
	}

	state.ConversationID = conversationID.String
	state.Model = modelName.String
	state.PermissionMode = permissionMode.String

	return state, nil
}

// Delete removes a session's resume state.
func (r *ResumeRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete resume state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// Exists checks if resume state exists for a session.
func (r *ResumeRepository) Exists(ctx context.Context, id string) (bool, error) {
	query := `SELECT 1 FROM sessions WHERE id = ? LIMIT 1`

	var exists int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check resume state existence: %w", err)
	}

	return true, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
