package recovery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/marketplace/marketplacetest"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/notify"
	"github.com/supplywise/supplybot/internal/process"
)

type fakeLauncher struct {
	mu    sync.Mutex
	tasks []*models.SupplyTask
}

func (l *fakeLauncher) LaunchTask(task *models.SupplyTask, creds models.Credentials) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, task)
}

func (l *fakeLauncher) launched() []*models.SupplyTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*models.SupplyTask(nil), l.tasks...)
}

type fixture struct {
	service  *Service
	orders   *db.OrderRepository
	creds    *db.CredentialRepository
	client   *marketplacetest.Client
	launcher *fakeLauncher
	notifier *notify.Recorder
	database *db.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		orders:   db.NewOrderRepository(database),
		creds:    db.NewCredentialRepository(database),
		client:   &marketplacetest.Client{},
		launcher: &fakeLauncher{},
		notifier: &notify.Recorder{},
		database: database,
	}
	f.service = NewService(
		config.RecoveryConfig{
			OrderIDInterval: time.Minute,
			CleanupInterval: time.Minute,
			SummaryInterval: time.Minute,
			StaleAfter:      2 * time.Hour,
		},
		config.RetryConfig{OrderIDAttempts: 1, OrderIDDelay: time.Millisecond},
		f.orders, f.creds, f.client, f.launcher, f.notifier,
	)
	return f
}

func (f *fixture) savePending(t *testing.T, chatID int64, taskID string, lastDay time.Time) {
	t.Helper()
	err := f.orders.SaveTask(context.Background(), &models.SupplyOrderRecord{
		ChatID: chatID,
		TaskID: taskID,
		Task: &models.SupplyTask{
			TaskID:  taskID,
			ChatID:  chatID,
			City:    "Moscow",
			LastDay: lastDay,
			Items:   []models.TaskItem{{Article: "A1", Quantity: 1}},
		},
	})
	if err != nil {
		t.Fatalf("failed to save pending task: %v", err)
	}
}

func (f *fixture) completeWithoutOrderID(t *testing.T, chatID int64, taskID, operationID string) {
	t.Helper()
	_, _, err := f.orders.CompleteTask(context.Background(), &models.SupplyOrderRecord{
		ChatID:      chatID,
		TaskID:      taskID,
		OperationID: operationID,
	})
	if err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}
}

func (f *fixture) backdateCompletion(t *testing.T, taskID string, completedAt time.Time) {
	t.Helper()
	_, err := f.database.ExecContext(context.Background(), `
		UPDATE supply_orders SET completed_at = ? WHERE task_id = ?
	`, completedAt.UTC().Format(time.RFC3339), taskID)
	if err != nil {
		t.Fatalf("failed to backdate completion: %v", err)
	}
}

func TestResumePendingTasksSkipsChatsWithoutCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	future := time.Now().Add(48 * time.Hour)

	f.savePending(t, 100, "task-1", future)
	f.savePending(t, 200, "task-2", future)
	if err := f.creds.Set(ctx, models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	if err := f.service.resumePendingTasks(ctx); err != nil {
		t.Fatalf("failed to resume tasks: %v", err)
	}

	launched := f.launcher.launched()
	if len(launched) != 1 {
		t.Fatalf("expected 1 launched task, got %d", len(launched))
	}
	if launched[0].TaskID != "task-1" || launched[0].ChatID != 100 {
		t.Errorf("unexpected launched task: %+v", launched[0])
	}
}

func TestRecoverOrderIDsResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.creds.Set(ctx, models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}
	f.completeWithoutOrderID(t, 100, "task-1", "op-1")

	f.client.GetCreateStatusFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CreateStatus, error) {
		return &marketplace.CreateStatus{OrderIDs: json.RawMessage(`[321]`)}, nil
	}

	f.service.recoverOrderIDs(ctx)

	record, err := f.orders.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.OrderID != 321 {
		t.Errorf("expected recovered order id 321, got %d", record.OrderID)
	}
	if record.Status != models.OrderStatusSupply {
		t.Errorf("expected status supply, got %s", record.Status)
	}
}

func TestRecoverOrderIDsStaleCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.creds.Set(ctx, models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}
	f.completeWithoutOrderID(t, 100, "task-old", "op-old")
	f.completeWithoutOrderID(t, 100, "task-new", "op-new")

	now := time.Now()
	f.backdateCompletion(t, "task-old", now.Add(-3*time.Hour))
	f.backdateCompletion(t, "task-new", now.Add(-10*time.Minute))

	f.client.GetCreateStatusFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CreateStatus, error) {
		return nil, &marketplace.APIError{StatusCode: 404, Message: "saga not found"}
	}

	f.service.recoverOrderIDs(ctx)

	oldRecord, err := f.orders.GetByTaskID(ctx, 100, "task-old")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if oldRecord.Status != models.OrderStatusFailedNoOrderID {
		t.Errorf("expected stale record marked failed_no_order_id, got %s", oldRecord.Status)
	}
	if oldRecord.FailureMessage != "saga not found" {
		t.Errorf("expected failure message kept, got %q", oldRecord.FailureMessage)
	}

	newRecord, err := f.orders.GetByTaskID(ctx, 100, "task-new")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if newRecord.Status != models.OrderStatusSupply {
		t.Errorf("expected fresh record untouched, got %s", newRecord.Status)
	}
}

func TestIsPermanentMiss(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		result process.OrderIDResult
		expect bool
	}{
		{"resolved", process.OrderIDResult{OrderIDs: []int64{1}}, false},
		{"forbidden role", process.OrderIDResult{FailureReason: process.FailureForbiddenRole, LastStatusCode: 403}, false},
		{"remote 404", process.OrderIDResult{FailureReason: process.FailureNotFound, LastStatusCode: 404}, true},
		{"saga not found message", process.OrderIDResult{FailureReason: process.FailureNotFound, LastErrorMessage: "Saga Not Found"}, true},
		{"transient failure", process.OrderIDResult{FailureReason: process.FailureNotFound, LastStatusCode: 500, LastErrorMessage: "internal"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.service.isPermanentMiss(tt.result); got != tt.expect {
				t.Errorf("expected %t, got %t", tt.expect, got)
			}
		})
	}
}

func TestCleanupExpiredTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.savePending(t, 100, "task-expired", time.Now().Add(-24*time.Hour))
	f.savePending(t, 100, "task-live", time.Now().Add(48*time.Hour))

	f.service.cleanupExpiredTasks(ctx)

	remaining, err := f.orders.ListTasks(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(remaining) != 1 || remaining[0].TaskID != "task-live" {
		t.Errorf("expected only the live task to remain, got %d records", len(remaining))
	}

	users := f.notifier.UserMessages()
	if len(users) != 1 || users[0].ChatID != 100 {
		t.Fatalf("expected one user notification, got %+v", users)
	}
}

func TestBroadcastSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.service.broadcastSummary(ctx)
	if len(f.notifier.WizardMessages()) != 0 {
		t.Fatal("expected no broadcast without pending tasks")
	}

	f.savePending(t, 100, "task-1", time.Now().Add(48*time.Hour))
	f.service.broadcastSummary(ctx)

	messages := f.notifier.WizardMessages()
	if len(messages) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(messages))
	}
	if messages[0].EventTag != "pending_tasks" {
		t.Errorf("expected pending_tasks tag, got %s", messages[0].EventTag)
	}
	if len(messages[0].Lines) != 2 {
		t.Errorf("expected header plus one digest line, got %v", messages[0].Lines)
	}
}

func TestBroadcastSummaryReentrancyGuard(t *testing.T) {
	f := newFixture(t)
	f.savePending(t, 100, "task-1", time.Now().Add(48*time.Hour))

	f.service.summaryBusy.Store(true)
	f.service.broadcastSummary(context.Background())
	if len(f.notifier.WizardMessages()) != 0 {
		t.Fatal("expected broadcast skipped while one is in flight")
	}

	f.service.summaryBusy.Store(false)
	f.service.broadcastSummary(context.Background())
	if len(f.notifier.WizardMessages()) != 1 {
		t.Fatal("expected broadcast after the guard clears")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	if err := f.service.Start(context.Background()); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := f.service.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := f.service.Stop(); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if err := f.service.Stop(); err != ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}
