package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/supplywise/supplybot/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func pendingTask(chatID int64, taskID string) *models.SupplyOrderRecord {
	return &models.SupplyOrderRecord{
		ChatID: chatID,
		TaskID: taskID,
		Task: &models.SupplyTask{
			TaskID:        taskID,
			ChatID:        chatID,
			City:          "Moscow",
			WarehouseName: "Khorugvino",
			LastDay:       time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			Items: []models.TaskItem{
				{Article: "SHIRT-RED", Quantity: 10},
			},
		},
	}
}

func TestSaveTaskAndGet(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	record := pendingTask(100, "task-1")
	if err := repo.SaveTask(ctx, record); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	if record.ID == "" {
		t.Error("expected generated record id")
	}

	got, err := repo.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Status != models.OrderStatusTask {
		t.Errorf("expected status task, got %s", got.Status)
	}
	if got.Task == nil || got.Task.City != "Moscow" {
		t.Error("expected task payload to round-trip")
	}
	if len(got.Task.Items) != 1 || got.Task.Items[0].Article != "SHIRT-RED" {
		t.Error("expected line items to round-trip")
	}
}

func TestSaveTaskRejectsInvalidRecord(t *testing.T) {
	repo := NewOrderRepository(testDB(t))

	err := repo.SaveTask(context.Background(), &models.SupplyOrderRecord{ChatID: 100})
	if err == nil {
		t.Fatal("expected validation error for missing task id")
	}
}

func TestSaveTaskUpsertRefreshesPendingRecord(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	record := pendingTask(100, "task-1")
	if err := repo.SaveTask(ctx, record); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	updated := pendingTask(100, "task-1")
	updated.Task.WarehouseName = "Tver"
	updated.OperationID = "op-2"
	if err := repo.SaveTask(ctx, updated); err != nil {
		t.Fatalf("failed to refresh task: %v", err)
	}

	got, err := repo.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Task.WarehouseName != "Tver" || got.OperationID != "op-2" {
		t.Errorf("expected refreshed payload, got %s / %s", got.Task.WarehouseName, got.OperationID)
	}
}

func TestCompleteTaskIdempotent(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveTask(ctx, pendingTask(100, "task-1")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	completion := &models.SupplyOrderRecord{
		ChatID:      100,
		TaskID:      "task-1",
		OperationID: "op-1",
		OrderID:     777,
		Warehouse:   "Khorugvino",
		Arrival:     "2025-06-20 10:00",
	}
	stored, duplicate, err := repo.CompleteTask(ctx, completion)
	if err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}
	if duplicate {
		t.Fatal("first completion must not report duplicate")
	}
	if stored.Status != models.OrderStatusSupply {
		t.Errorf("expected status supply, got %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if stored.Task != nil {
		t.Error("expected task payload dropped on completion")
	}

	// Second completion with different content is a no-op.
	second := &models.SupplyOrderRecord{
		ChatID:      100,
		TaskID:      "task-1",
		OperationID: "op-other",
		OrderID:     999,
	}
	stored2, duplicate2, err := repo.CompleteTask(ctx, second)
	if err != nil {
		t.Fatalf("failed on duplicate completion: %v", err)
	}
	if !duplicate2 {
		t.Fatal("second completion must report duplicate")
	}
	if stored2.OrderID != 777 || stored2.OperationID != "op-1" {
		t.Errorf("duplicate completion must not overwrite, got order %d op %s", stored2.OrderID, stored2.OperationID)
	}

	got, err := repo.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.OrderID != 777 {
		t.Errorf("expected stored order id 777, got %d", got.OrderID)
	}
}

func TestCompleteTaskWithoutPriorPendingRecord(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	stored, duplicate, err := repo.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID:      200,
		TaskID:      "task-9",
		OperationID: "op-9",
	})
	if err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}
	if duplicate {
		t.Fatal("expected fresh completion")
	}
	if stored.Status != models.OrderStatusSupply {
		t.Errorf("expected status supply, got %s", stored.Status)
	}
}

func TestSetOrderID(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if _, _, err := repo.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-1", OperationID: "op-1",
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	if err := repo.SetOrderID(ctx, 100, "task-1", 4242); err != nil {
		t.Fatalf("failed to set order id: %v", err)
	}

	got, err := repo.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.OrderID != 4242 {
		t.Errorf("expected order id 4242, got %d", got.OrderID)
	}

	if err := repo.SetOrderID(ctx, 100, "missing", 1); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMarkFailedWithoutOrderID(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if _, _, err := repo.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-1", OperationID: "op-1",
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	if err := repo.MarkFailedWithoutOrderID(ctx, 100, "task-1", "not_found (404)", "saga not found"); err != nil {
		t.Fatalf("failed to mark record: %v", err)
	}

	got, err := repo.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Status != models.OrderStatusFailedNoOrderID {
		t.Errorf("expected status failed_no_order_id, got %s", got.Status)
	}
	if got.FailureCode != "not_found (404)" || got.FailureMessage != "saga not found" {
		t.Errorf("expected failure details kept, got %q / %q", got.FailureCode, got.FailureMessage)
	}

	// Only supply records can transition.
	if err := repo.SaveTask(ctx, pendingTask(100, "task-2")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	if err := repo.MarkFailedWithoutOrderID(ctx, 100, "task-2", "x", "y"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for pending record, got %v", err)
	}
}

func TestListTasksAndSupplyMissingOrderID(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveTask(ctx, pendingTask(100, "task-1")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	if err := repo.SaveTask(ctx, pendingTask(200, "task-2")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	if _, _, err := repo.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-1", OperationID: "op-1",
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	all, err := repo.ListTasks(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(all) != 1 || all[0].TaskID != "task-2" {
		t.Errorf("expected the single remaining pending task, got %d records", len(all))
	}

	scoped, err := repo.ListTasks(ctx, 100)
	if err != nil {
		t.Fatalf("failed to list chat tasks: %v", err)
	}
	if len(scoped) != 0 {
		t.Errorf("expected no pending tasks for chat 100, got %d", len(scoped))
	}

	missing, err := repo.ListSupplyMissingOrderID(ctx)
	if err != nil {
		t.Fatalf("failed to list supplies: %v", err)
	}
	if len(missing) != 1 || missing[0].TaskID != "task-1" {
		t.Errorf("expected task-1 to lack an order id, got %d records", len(missing))
	}

	if err := repo.SetOrderID(ctx, 100, "task-1", 55); err != nil {
		t.Fatalf("failed to set order id: %v", err)
	}
	missing, err = repo.ListSupplyMissingOrderID(ctx)
	if err != nil {
		t.Fatalf("failed to list supplies: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no supplies missing an order id, got %d", len(missing))
	}
}

func TestListTaskSummaries(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveTask(ctx, pendingTask(100, "task-1")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	summaries, err := repo.ListTaskSummaries(ctx)
	if err != nil {
		t.Fatalf("failed to list summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	summary := summaries[0]
	if summary.City != "Moscow" || summary.WarehouseName != "Khorugvino" || summary.ItemCount != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestDeleteTasksByChat(t *testing.T) {
	repo := NewOrderRepository(testDB(t))
	ctx := context.Background()

	if err := repo.SaveTask(ctx, pendingTask(100, "task-1")); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	if _, _, err := repo.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-done", OperationID: "op-1",
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	if err := repo.DeleteTasksByChat(ctx, 100); err != nil {
		t.Fatalf("failed to delete tasks: %v", err)
	}

	if _, err := repo.GetByTaskID(ctx, 100, "task-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected pending task deleted, got %v", err)
	}
	if _, err := repo.GetByTaskID(ctx, 100, "task-done"); err != nil {
		t.Errorf("expected completed record kept, got %v", err)
	}
}
