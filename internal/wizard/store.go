// Package wizard implements the chat wizard state machine: per-chat
// session state, stage transitions, callback dispatch and the supply
// task lifecycle glue around the orchestrator.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/models"
)

// Store holds the authoritative in-memory wizard state per chat plus
// per-task contexts, backed by durable snapshots. Mutations are
// whole-object replace-on-write: readers get a private clone and a Save
// replaces the stored object wholesale, so background runs and the
// transport never share a mutable struct. Last-writer-wins is
// acceptable; a chat's inputs are serialized by the transport.
type Store struct {
	mu       sync.Mutex
	sessions *db.SessionRepository
	states   map[int64]*models.WizardState
	contexts map[string]*models.TaskContext
}

// NewStore creates a Store over the given snapshot repository.
func NewStore(sessions *db.SessionRepository) *Store {
	return &Store{
		sessions: sessions,
		states:   make(map[int64]*models.WizardState),
		contexts: make(map[string]*models.TaskContext),
	}
}

func contextKey(chatID int64, taskID string) string {
	return fmt.Sprintf("%d:%s", chatID, taskID)
}

// State returns a private copy of the wizard state for a chat,
// hydrating from the durable snapshot on first access and creating a
// fresh landing state when none exists. Mutations become visible only
// through Save.
func (s *Store) State(ctx context.Context, chatID int64) *models.WizardState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.states[chatID]; ok {
		return state.Clone()
	}

	state, err := s.sessions.LoadChatState(ctx, chatID)
	if err != nil {
		if !errors.Is(err, db.ErrSessionNotFound) {
			// A corrupt snapshot must not wedge the chat; start over.
			state = nil
		}
	}
	if state == nil {
		state = models.NewWizardState(chatID)
	}
	s.states[chatID] = state
	return state.Clone()
}

// Save persists the wizard state snapshot and makes it authoritative in
// memory. The stored object is a clone, so the caller may keep mutating
// its copy.
func (s *Store) Save(ctx context.Context, state *models.WizardState) error {
	s.mu.Lock()
	s.states[state.ChatID] = state.Clone()
	s.mu.Unlock()
	return s.sessions.SaveChatState(ctx, state)
}

// TaskContext returns a private copy of the context for a task,
// hydrating from the durable snapshot. A full re-render path always
// prefers this over any stale WizardState field.
func (s *Store) TaskContext(ctx context.Context, chatID int64, taskID string) (*models.TaskContext, error) {
	s.mu.Lock()
	if taskCtx, ok := s.contexts[contextKey(chatID, taskID)]; ok {
		s.mu.Unlock()
		return taskCtx.Clone(), nil
	}
	s.mu.Unlock()

	taskCtx, err := s.sessions.LoadTaskContext(ctx, chatID, taskID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.contexts[contextKey(chatID, taskID)] = taskCtx
	s.mu.Unlock()
	return taskCtx.Clone(), nil
}

// SaveTaskContext persists a task context snapshot.
func (s *Store) SaveTaskContext(ctx context.Context, taskCtx *models.TaskContext) error {
	s.mu.Lock()
	s.contexts[contextKey(taskCtx.ChatID, taskCtx.TaskID)] = taskCtx.Clone()
	s.mu.Unlock()
	return s.sessions.SaveTaskContext(ctx, taskCtx)
}

// DeleteTaskContext removes a task context from memory and storage.
func (s *Store) DeleteTaskContext(ctx context.Context, chatID int64, taskID string) error {
	s.mu.Lock()
	delete(s.contexts, contextKey(chatID, taskID))
	s.mu.Unlock()
	return s.sessions.DeleteTaskContext(ctx, chatID, taskID)
}

// ListTaskContexts returns every context for a chat from storage,
// refreshing the in-memory cache.
func (s *Store) ListTaskContexts(ctx context.Context, chatID int64) ([]*models.TaskContext, error) {
	contexts, err := s.sessions.ListTaskContexts(ctx, chatID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, taskCtx := range contexts {
		s.contexts[contextKey(chatID, taskCtx.TaskID)] = taskCtx.Clone()
	}
	s.mu.Unlock()
	return contexts, nil
}

// ClearChat wipes the chat's wizard state and every task context, in
// memory and storage. Used by the cancel action.
func (s *Store) ClearChat(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.states, chatID)
	for key := range s.contexts {
		if keyChat(key) == chatID {
			delete(s.contexts, key)
		}
	}
	s.mu.Unlock()

	if err := s.sessions.DeleteChatState(ctx, chatID); err != nil {
		return err
	}
	return s.sessions.DeleteTaskContextsByChat(ctx, chatID)
}

func keyChat(key string) int64 {
	var chatID int64
	_, _ = fmt.Sscanf(key, "%d:", &chatID)
	return chatID
}
