package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/supplywise/supplybot/internal/abort"
	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/marketplace/marketplacetest"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/notify"
	"github.com/supplywise/supplybot/internal/orchestrator"
)

type testEnv struct {
	handler  *Handler
	store    *Store
	orders   *db.OrderRepository
	creds    *db.CredentialRepository
	client   *marketplacetest.Client
	notifier *notify.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Draft.PollInterval = time.Millisecond
	cfg.Draft.PollAttempts = 5
	cfg.Draft.RecreateAttempts = 2
	cfg.Draft.RecreatePause = time.Millisecond
	cfg.Retry.OrderIDAttempts = 2
	cfg.Retry.OrderIDDelay = time.Millisecond
	cfg.Retry.CancelAttempts = 3
	cfg.Retry.CancelDelay = time.Millisecond

	env := &testEnv{
		orders:   db.NewOrderRepository(database),
		creds:    db.NewCredentialRepository(database),
		client:   &marketplacetest.Client{},
		notifier: &notify.Recorder{},
	}
	env.store = NewStore(db.NewSessionRepository(database))
	env.handler = NewHandler(
		cfg,
		env.store,
		env.orders,
		env.creds,
		env.client,
		orchestrator.NewRunner(env.client, cfg.Draft),
		abort.NewRegistry(),
		env.notifier,
	)
	return env
}

func (e *testEnv) setStage(t *testing.T, chatID int64, stage models.Stage) {
	t.Helper()
	ctx := context.Background()
	state := e.store.State(ctx, chatID)
	state.Stage = stage
	if err := e.store.Save(ctx, state); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
}

func (e *testEnv) stage(chatID int64) models.Stage {
	return e.store.State(context.Background(), chatID).Stage
}

func (e *testEnv) lastUserMessage(t *testing.T) string {
	t.Helper()
	messages := e.notifier.UserMessages()
	if len(messages) == 0 {
		t.Fatal("expected at least one user notification")
	}
	return messages[len(messages)-1].Text
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func completeTask(lastDay time.Time) *models.SupplyTask {
	return &models.SupplyTask{
		TaskID:             "task-1",
		City:               "Moscow",
		WarehouseName:      "Khorugvino",
		LastDay:            lastDay,
		Items:              []models.TaskItem{{Article: "1001", Quantity: 5}},
		ClusterID:          7,
		WarehouseID:        900,
		DropOffWarehouseID: 500,
		ReadyInDays:        0,
	}
}

func TestAuthFlowStoresCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.setStage(t, 100, models.StageAuthAPIKey)
	if err := env.handler.HandleText(ctx, 100, "secret-api-key"); err != nil {
		t.Fatalf("failed to handle api key: %v", err)
	}
	if env.stage(100) != models.StageAuthClientID {
		t.Fatalf("expected client id prompt, got %s", env.stage(100))
	}

	if err := env.handler.HandleText(ctx, 100, "client-42"); err != nil {
		t.Fatalf("failed to handle client id: %v", err)
	}
	if env.stage(100) != models.StageLanding {
		t.Errorf("expected landing after auth, got %s", env.stage(100))
	}

	creds, err := env.creds.Get(ctx, 100)
	if err != nil {
		t.Fatalf("failed to get credentials: %v", err)
	}
	if creds.ClientID != "client-42" || creds.APIKey != "secret-api-key" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestAuthAPIKeyNeverPersistedInSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.setStage(t, 100, models.StageAuthAPIKey)
	if err := env.handler.HandleText(ctx, 100, "secret-api-key"); err != nil {
		t.Fatalf("failed to handle api key: %v", err)
	}

	snapshot, err := json.Marshal(env.store.State(ctx, 100))
	if err != nil {
		t.Fatalf("failed to marshal state: %v", err)
	}
	if strings.Contains(string(snapshot), "secret-api-key") {
		t.Error("api key must not appear in the wizard state snapshot")
	}
}

func TestClientIDBeforeAPIKeyBouncesBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.setStage(t, 100, models.StageAuthClientID)
	if err := env.handler.HandleText(ctx, 100, "client-42"); err != nil {
		t.Fatalf("failed to handle client id: %v", err)
	}
	if env.stage(100) != models.StageAuthAPIKey {
		t.Errorf("expected bounce back to api key stage, got %s", env.stage(100))
	}
	if _, err := env.creds.Get(ctx, 100); !errors.Is(err, db.ErrCredentialsNotFound) {
		t.Errorf("expected no stored credentials, got %v", err)
	}
}

func TestReadyDaysInputRePromptsOnInvalidValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.setStage(t, 100, models.StageAwaitReadyDays)

	for _, input := range []string{"abc", "-1", "99"} {
		if err := env.handler.HandleText(ctx, 100, input); err != nil {
			t.Fatalf("failed to handle input %q: %v", input, err)
		}
		if env.stage(100) != models.StageAwaitReadyDays {
			t.Errorf("expected no transition on %q, got %s", input, env.stage(100))
		}
		if !strings.Contains(env.lastUserMessage(t), "between 1 and") {
			t.Errorf("expected re-prompt on %q, got %q", input, env.lastUserMessage(t))
		}
	}
}

func TestIngestTasksRoutesByDropOffPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lastDay := time.Now().Add(72 * time.Hour)

	task := completeTask(lastDay)
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{task}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}
	if env.stage(100) != models.StageClusterPrompt {
		t.Errorf("expected cluster prompt with a known drop-off, got %s", env.stage(100))
	}

	pending, err := env.orders.ListTasks(ctx, 100)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != "task-1" {
		t.Errorf("expected one pending record, got %d", len(pending))
	}
	if _, err := env.store.TaskContext(ctx, 100, "task-1"); err != nil {
		t.Errorf("expected task context saved, got %v", err)
	}

	noDropOff := completeTask(lastDay)
	noDropOff.TaskID = "task-2"
	noDropOff.DropOffWarehouseID = 0
	if err := env.handler.IngestTasks(ctx, 200, []*models.SupplyTask{noDropOff}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}
	if env.stage(200) != models.StageAwaitDropOffQuery {
		t.Errorf("expected drop-off query without a drop-off, got %s", env.stage(200))
	}
}

func TestIngestTasksRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := &models.SupplyTask{TaskID: "task-bad"}
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{bad}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := env.orders.GetByTaskID(ctx, 100, "task-bad"); !errors.Is(err, db.ErrOrderNotFound) {
		t.Errorf("expected invalid task not persisted, got %v", err)
	}
	if !strings.Contains(env.lastUserMessage(t), "rejected") {
		t.Errorf("expected rejection notice, got %q", env.lastUserMessage(t))
	}
}

func scriptHappyPath(client *marketplacetest.Client) {
	client.CreateDraftFunc = func(ctx context.Context, creds models.Credentials, clusterIDs []int64, dropOffID int64, items []marketplace.DraftItem, supplyType string) (string, error) {
		return "draft-op", nil
	}
	client.GetDraftInfoFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.DraftInfo, error) {
		return &marketplace.DraftInfo{Status: marketplace.StatusSuccess, DraftID: 42}, nil
	}
	client.GetDraftTimeslotsFunc = func(ctx context.Context, creds models.Credentials, draftID int64, warehouseIDs []int64, dateFrom, dateTo string) (*marketplace.TimeslotList, error) {
		return &marketplace.TimeslotList{Timeslots: []models.Timeslot{{
			From: time.Now().Add(24 * time.Hour),
			To:   time.Now().Add(26 * time.Hour),
		}}}, nil
	}
	client.CreateOrderFunc = func(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error) {
		return "order-op", nil
	}
	client.GetCreateStatusFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CreateStatus, error) {
		return &marketplace.CreateStatus{OrderIDs: json.RawMessage(`[777]`)}, nil
	}
}

func TestLaunchTaskCompletesSupplyOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}
	if err := env.creds.Set(ctx, creds); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	task := completeTask(time.Now().Add(72 * time.Hour))
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{task}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}

	scriptHappyPath(env.client)
	env.handler.LaunchTask(task, creds)

	waitFor(t, "completed supply record", func() bool {
		record, err := env.orders.GetByTaskID(ctx, 100, "task-1")
		return err == nil && record.Status == models.OrderStatusSupply
	})

	record, err := env.orders.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.OrderID != 777 {
		t.Errorf("expected resolved order id 777, got %d", record.OrderID)
	}
	if record.OperationID != "order-op" {
		t.Errorf("expected operation id kept, got %s", record.OperationID)
	}

	waitFor(t, "task context removal", func() bool {
		_, err := env.store.TaskContext(ctx, 100, "task-1")
		return errors.Is(err, db.ErrSessionNotFound)
	})

	waitFor(t, "success notification", func() bool {
		for _, m := range env.notifier.UserMessages() {
			if strings.Contains(m.Text, "Supply order 777 created") {
				return true
			}
		}
		return false
	})
}

func TestWarehousePendingSelectionFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}
	if err := env.creds.Set(ctx, creds); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}

	task := completeTask(time.Now().Add(72 * time.Hour))
	task.WarehouseID = 0
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{task}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}

	scriptHappyPath(env.client)
	env.client.GetDraftInfoFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.DraftInfo, error) {
		return &marketplace.DraftInfo{
			Status:  marketplace.StatusSuccess,
			DraftID: 42,
			Warehouses: []models.DraftWarehouse{
				{WarehouseID: 901, Name: "Tver", Rank: 1},
			},
		}, nil
	}
	env.client.CreateOrderFunc = func(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error) {
		if draftID != 42 {
			t.Errorf("expected draft 42, got %d", draftID)
		}
		if warehouseID != 901 {
			t.Errorf("expected selected warehouse 901, got %d", warehouseID)
		}
		return "order-op", nil
	}

	// With no warehouse on the task and auto-select off, the run must
	// park on the draft's ranked candidates instead of dead-ending.
	env.handler.LaunchTask(task, creds)

	waitFor(t, "draft warehouse prompt", func() bool {
		state := env.store.State(ctx, 100)
		return state.Stage == models.StageDraftWarehouseSelect && len(state.DraftWarehouses) == 1
	})
	if got := env.store.State(ctx, 100).DraftWarehouses[0].WarehouseID; got != 901 {
		t.Fatalf("expected candidate warehouse 901, got %d", got)
	}

	if err := env.handler.HandleCallback(ctx, 100, "draftwh:select:901"); err != nil {
		t.Fatalf("failed to select draft warehouse: %v", err)
	}
	state := env.store.State(ctx, 100)
	if state.Stage != models.StageTimeslotSelect {
		t.Fatalf("expected timeslot selection after warehouse pick, got %s", state.Stage)
	}
	if len(state.DraftTimeslots) != 1 {
		t.Fatalf("expected one selectable timeslot, got %d", len(state.DraftTimeslots))
	}

	if err := env.handler.HandleCallback(ctx, 100, "timeslot:select:0"); err != nil {
		t.Fatalf("failed to select timeslot: %v", err)
	}

	waitFor(t, "completed supply record", func() bool {
		record, err := env.orders.GetByTaskID(ctx, 100, "task-1")
		return err == nil && record.Status == models.OrderStatusSupply
	})

	record, err := env.orders.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.OrderID != 777 {
		t.Errorf("expected resolved order id 777, got %d", record.OrderID)
	}
	if record.WarehouseID != 901 {
		t.Errorf("expected order pinned to warehouse 901, got %d", record.WarehouseID)
	}
}

func TestHandleSupplyCreatedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creds := models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}

	task := completeTask(time.Now().Add(72 * time.Hour))
	task.ChatID = 100
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{task}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}
	scriptHappyPath(env.client)

	env.handler.handleSupplyCreated(ctx, task, creds, "order-op")
	env.handler.handleSupplyCreated(ctx, task, creds, "order-op")

	supplyCreated := 0
	for _, m := range env.notifier.WizardMessages() {
		if m.EventTag == "supply_created" {
			supplyCreated++
		}
	}
	if supplyCreated != 1 {
		t.Errorf("expected exactly one supply_created broadcast, got %d", supplyCreated)
	}

	record, err := env.orders.GetByTaskID(ctx, 100, "task-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.Status != models.OrderStatusSupply || record.OrderID != 777 {
		t.Errorf("unexpected record after duplicate completion: %+v", record)
	}
}

func TestCancelAbortsAndClears(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := completeTask(time.Now().Add(72 * time.Hour))
	if err := env.handler.IngestTasks(ctx, 100, []*models.SupplyTask{task}); err != nil {
		t.Fatalf("failed to ingest tasks: %v", err)
	}

	runCtx := env.handler.Registry().Register(context.Background(), "task-1")

	if err := env.handler.Cancel(ctx, 100); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}

	if runCtx.Err() == nil {
		t.Error("expected the in-flight run to be aborted")
	}
	if env.stage(100) != models.StageLanding {
		t.Errorf("expected landing stage, got %s", env.stage(100))
	}
	pending, err := env.orders.ListTasks(ctx, 100)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected pending tasks deleted, got %d", len(pending))
	}
	if _, err := env.store.TaskContext(ctx, 100, "task-1"); !errors.Is(err, db.ErrSessionNotFound) {
		t.Errorf("expected task context deleted, got %v", err)
	}
}

func TestCancelSupplyOrderConfirmed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.creds.Set(ctx, models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}
	if _, _, err := env.orders.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-1", OperationID: "order-op", OrderID: 777,
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	env.client.CancelOrderFunc = func(ctx context.Context, creds models.Credentials, orderID int64) (string, error) {
		if orderID != 777 {
			t.Errorf("expected order 777, got %d", orderID)
		}
		return "cancel-op", nil
	}
	env.client.GetCancelStatusFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CancelStatus, error) {
		return &marketplace.CancelStatus{Status: marketplace.StatusSuccess}, nil
	}

	if err := env.handler.CancelSupplyOrder(ctx, 100, "task-1"); err != nil {
		t.Fatalf("failed to cancel supply order: %v", err)
	}

	if _, err := env.orders.GetByTaskID(ctx, 100, "task-1"); !errors.Is(err, db.ErrOrderNotFound) {
		t.Errorf("expected record deleted after confirmed cancellation, got %v", err)
	}
	if !strings.Contains(env.lastUserMessage(t), "cancelled") {
		t.Errorf("expected cancellation notice, got %q", env.lastUserMessage(t))
	}
}

func TestCancelSupplyOrderUnconfirmedKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.creds.Set(ctx, models.Credentials{ChatID: 100, ClientID: "c", APIKey: "k"}); err != nil {
		t.Fatalf("failed to set credentials: %v", err)
	}
	if _, _, err := env.orders.CompleteTask(ctx, &models.SupplyOrderRecord{
		ChatID: 100, TaskID: "task-1", OperationID: "order-op", OrderID: 777,
	}); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	env.client.CancelOrderFunc = func(ctx context.Context, creds models.Credentials, orderID int64) (string, error) {
		return "cancel-op", nil
	}
	env.client.GetCancelStatusFunc = func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CancelStatus, error) {
		return &marketplace.CancelStatus{Status: marketplace.StatusPending}, nil
	}

	if err := env.handler.CancelSupplyOrder(ctx, 100, "task-1"); err != nil {
		t.Fatalf("failed to run cancellation: %v", err)
	}

	if _, err := env.orders.GetByTaskID(ctx, 100, "task-1"); err != nil {
		t.Errorf("expected record kept after unconfirmed cancellation, got %v", err)
	}
	if !strings.Contains(env.lastUserMessage(t), "not confirmed") {
		t.Errorf("expected unconfirmed notice, got %q", env.lastUserMessage(t))
	}
}
