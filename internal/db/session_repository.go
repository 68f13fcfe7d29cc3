package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/supplywise/supplybot/internal/models"
)

// Session repository errors.
var (
	ErrSessionNotFound = errors.New("session snapshot not found")
)

// SessionRepository persists wizard state and task context snapshots as
// JSON rows. Snapshots are whole-object replace-on-write; the wizard
// store is the only reader and writer.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SaveChatState stores the wizard state snapshot for a chat.
func (r *SessionRepository) SaveChatState(ctx context.Context, state *models.WizardState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal wizard state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_states (chat_id, state_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at
	`, state.ChatID, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save wizard state: %w", err)
	}
	return nil
}

// LoadChatState loads the wizard state snapshot for a chat.
func (r *SessionRepository) LoadChatState(ctx context.Context, chatID int64) (*models.WizardState, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT state_json FROM chat_states WHERE chat_id = ?
	`, chatID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wizard state: %w", err)
	}

	var state models.WizardState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wizard state: %w", err)
	}
	return &state, nil
}

// DeleteChatState removes the wizard state snapshot for a chat.
func (r *SessionRepository) DeleteChatState(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_states WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete wizard state: %w", err)
	}
	return nil
}

// SaveTaskContext stores a task context snapshot.
func (r *SessionRepository) SaveTaskContext(ctx context.Context, taskCtx *models.TaskContext) error {
	if err := taskCtx.Validate(); err != nil {
		return fmt.Errorf("invalid task context: %w", err)
	}

	data, err := json.Marshal(taskCtx)
	if err != nil {
		return fmt.Errorf("failed to marshal task context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_contexts (chat_id, task_id, context_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, task_id) DO UPDATE SET
			context_json = excluded.context_json,
			updated_at = excluded.updated_at
	`, taskCtx.ChatID, taskCtx.TaskID, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save task context: %w", err)
	}
	return nil
}

// LoadTaskContext loads a task context snapshot.
func (r *SessionRepository) LoadTaskContext(ctx context.Context, chatID int64, taskID string) (*models.TaskContext, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT context_json FROM task_contexts WHERE chat_id = ? AND task_id = ?
	`, chatID, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task context: %w", err)
	}

	var taskCtx models.TaskContext
	if err := json.Unmarshal([]byte(data), &taskCtx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task context: %w", err)
	}
	return &taskCtx, nil
}

// ListTaskContexts loads every task context snapshot for a chat.
func (r *SessionRepository) ListTaskContexts(ctx context.Context, chatID int64) ([]*models.TaskContext, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT context_json FROM task_contexts WHERE chat_id = ? ORDER BY task_id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task contexts: %w", err)
	}
	defer rows.Close()

	var contexts []*models.TaskContext
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task context: %w", err)
		}
		var taskCtx models.TaskContext
		if err := json.Unmarshal([]byte(data), &taskCtx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task context: %w", err)
		}
		contexts = append(contexts, &taskCtx)
	}
	return contexts, rows.Err()
}

// DeleteTaskContext removes a task context snapshot.
func (r *SessionRepository) DeleteTaskContext(ctx context.Context, chatID int64, taskID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM task_contexts WHERE chat_id = ? AND task_id = ?
	`, chatID, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task context: %w", err)
	}
	return nil
}

// DeleteTaskContextsByChat removes every task context for a chat.
func (r *SessionRepository) DeleteTaskContextsByChat(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM task_contexts WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete task contexts: %w", err)
	}
	return nil
}
