package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/supplywise/supplybot/internal/models"
)

func TestChatStateRoundTrip(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	state := models.NewWizardState(100)
	state.Stage = models.StageWarehouseSelect
	state.SelectedClusterID = 7
	state.SelectedClusterName = "Moscow"

	if err := repo.SaveChatState(ctx, state); err != nil {
		t.Fatalf("failed to save chat state: %v", err)
	}

	got, err := repo.LoadChatState(ctx, 100)
	if err != nil {
		t.Fatalf("failed to load chat state: %v", err)
	}
	if got.Stage != models.StageWarehouseSelect {
		t.Errorf("expected stage %s, got %s", models.StageWarehouseSelect, got.Stage)
	}
	if got.SelectedClusterID != 7 || got.SelectedClusterName != "Moscow" {
		t.Errorf("expected selections to round-trip, got %d / %s", got.SelectedClusterID, got.SelectedClusterName)
	}
}

func TestLoadChatStateMissing(t *testing.T) {
	repo := NewSessionRepository(testDB(t))

	_, err := repo.LoadChatState(context.Background(), 404)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveChatStateOverwrites(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	state := models.NewWizardState(100)
	if err := repo.SaveChatState(ctx, state); err != nil {
		t.Fatalf("failed to save chat state: %v", err)
	}

	state.Stage = models.StageConfirmOrder
	if err := repo.SaveChatState(ctx, state); err != nil {
		t.Fatalf("failed to overwrite chat state: %v", err)
	}

	got, err := repo.LoadChatState(ctx, 100)
	if err != nil {
		t.Fatalf("failed to load chat state: %v", err)
	}
	if got.Stage != models.StageConfirmOrder {
		t.Errorf("expected stage %s, got %s", models.StageConfirmOrder, got.Stage)
	}
}

func TestDeleteChatState(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveChatState(ctx, models.NewWizardState(100)); err != nil {
		t.Fatalf("failed to save chat state: %v", err)
	}
	if err := repo.DeleteChatState(ctx, 100); err != nil {
		t.Fatalf("failed to delete chat state: %v", err)
	}
	if _, err := repo.LoadChatState(ctx, 100); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func taskContext(chatID int64, taskID string) *models.TaskContext {
	return &models.TaskContext{
		ChatID: chatID,
		TaskID: taskID,
		Task: &models.SupplyTask{
			TaskID:  taskID,
			ChatID:  chatID,
			City:    "Kazan",
			LastDay: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			Items:   []models.TaskItem{{Article: "A1", Quantity: 2}},
		},
	}
}

func TestTaskContextRoundTrip(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	taskCtx := taskContext(100, "task-1")
	taskCtx.DraftStatus = models.DraftCreating
	taskCtx.DraftOperationID = "op-1"

	if err := repo.SaveTaskContext(ctx, taskCtx); err != nil {
		t.Fatalf("failed to save task context: %v", err)
	}

	got, err := repo.LoadTaskContext(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to load task context: %v", err)
	}
	if got.DraftStatus != models.DraftCreating || got.DraftOperationID != "op-1" {
		t.Errorf("expected draft fields to round-trip, got %s / %s", got.DraftStatus, got.DraftOperationID)
	}
	if got.Task == nil || got.Task.City != "Kazan" {
		t.Error("expected task payload to round-trip")
	}
}

func TestListTaskContextsScopedToChat(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	for _, tc := range []*models.TaskContext{
		taskContext(100, "task-1"),
		taskContext(100, "task-2"),
		taskContext(200, "task-3"),
	} {
		if err := repo.SaveTaskContext(ctx, tc); err != nil {
			t.Fatalf("failed to save task context: %v", err)
		}
	}

	contexts, err := repo.ListTaskContexts(ctx, 100)
	if err != nil {
		t.Fatalf("failed to list task contexts: %v", err)
	}
	if len(contexts) != 2 {
		t.Errorf("expected 2 contexts for chat 100, got %d", len(contexts))
	}
}

func TestDeleteTaskContext(t *testing.T) {
	repo := NewSessionRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveTaskContext(ctx, taskContext(100, "task-1")); err != nil {
		t.Fatalf("failed to save task context: %v", err)
	}
	if err := repo.DeleteTaskContext(ctx, 100, "task-1"); err != nil {
		t.Fatalf("failed to delete task context: %v", err)
	}
	if _, err := repo.LoadTaskContext(ctx, 100, "task-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestCredentialRepository(t *testing.T) {
	repo := NewCredentialRepository(testDB(t))
	ctx := context.Background()

	if _, err := repo.Get(ctx, 100); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("expected ErrCredentialsNotFound, got %v", err)
	}

	creds := models.Credentials{ChatID: 100, ClientID: "client-1", APIKey: "key-1"}
	if err := repo.Set(ctx, creds); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	got, err := repo.Get(ctx, 100)
	if err != nil {
		t.Fatalf("failed to get credentials: %v", err)
	}
	if got != creds {
		t.Errorf("expected %+v, got %+v", creds, got)
	}

	// Replacing keys for the same chat overwrites.
	creds.APIKey = "key-2"
	if err := repo.Set(ctx, creds); err != nil {
		t.Fatalf("failed to replace credentials: %v", err)
	}
	got, err = repo.Get(ctx, 100)
	if err != nil {
		t.Fatalf("failed to get credentials: %v", err)
	}
	if got.APIKey != "key-2" {
		t.Errorf("expected replaced api key, got %s", got.APIKey)
	}

	if err := repo.Clear(ctx, 100); err != nil {
		t.Fatalf("failed to clear credentials: %v", err)
	}
	if _, err := repo.Get(ctx, 100); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("expected ErrCredentialsNotFound after clear, got %v", err)
	}
}
