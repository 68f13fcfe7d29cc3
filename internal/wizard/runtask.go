package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/orchestrator"
	"github.com/supplywise/supplybot/internal/process"
)

// startActiveTask launches an orchestrator run for the chat's selected
// task. The run proceeds in the background; progress reaches the user
// through lifecycle events.
func (h *Handler) startActiveTask(ctx context.Context, state *models.WizardState) error {
	if state.SelectedTaskID == "" {
		h.notifier.NotifyUser(ctx, state.ChatID, "No task selected.")
		return nil
	}

	taskCtx, err := h.store.TaskContext(ctx, state.ChatID, state.SelectedTaskID)
	if errors.Is(err, db.ErrSessionNotFound) {
		state.SelectedTaskID = ""
		h.notifier.NotifyUser(ctx, state.ChatID, "That task no longer exists.")
		return h.store.Save(ctx, state)
	}
	if err != nil {
		return err
	}

	creds, err := h.creds.Get(ctx, state.ChatID)
	if err != nil {
		return h.requireAuth(ctx, state, err)
	}

	task := taskCtx.ApplyToTask()
	task.WarehouseAutoSelect = state.AutoWarehouseSelection

	record := &models.SupplyOrderRecord{ChatID: state.ChatID, TaskID: task.TaskID, Task: task}
	if err := h.orders.SaveTask(ctx, record); err != nil {
		return fmt.Errorf("failed to persist pending task: %w", err)
	}

	state.Stage = models.StageOrderCreating
	if err := h.store.Save(ctx, state); err != nil {
		return err
	}

	h.LaunchTask(task, creds)
	return nil
}

// LaunchTask starts one background orchestrator run for the task. The
// abort registry guarantees at most one active run per task id; any
// prior run is aborted first.
func (h *Handler) LaunchTask(task *models.SupplyTask, creds models.Credentials) {
	runCtx := h.aborts.Register(context.Background(), task.TaskID)
	go h.runTask(runCtx, task, creds)
}

func (h *Handler) runTask(ctx context.Context, task *models.SupplyTask, creds models.Credentials) {
	logger := h.logger.With().Str("task_id", task.TaskID).Int64("chat_id", task.ChatID).Logger()

	result, err := h.runner.Run(ctx, orchestrator.RunParams{
		Task:        task,
		Credentials: creds,
		Emit: func(event models.TaskEvent) {
			h.onTaskEvent(event)
		},
	})
	h.aborts.Release(task.TaskID)

	if err != nil {
		logger.Error().Err(err).Msg("task run failed to start")
		return
	}

	// Notification and persistence below run on a fresh context: the
	// run context may already be cancelled and must not undo a
	// completed order.
	bg := context.Background()

	switch result.Outcome {
	case orchestrator.OutcomeCompleted:
		h.handleSupplyCreated(bg, result.Task, creds, result.OperationID)

	case orchestrator.OutcomeAborted:
		logger.Info().Msg("task run aborted")

	case orchestrator.OutcomeWindowExpired:
		h.finishTask(bg, result.Task, "The delivery window for task "+task.TaskID+" expired before a timeslot was secured.")
		h.notifier.NotifyWizard(bg, "window_expired", []string{
			fmt.Sprintf("task %s (chat %d): deadline %s passed", task.TaskID, task.ChatID, task.LastDay.Format(time.RFC3339)),
		})

	case orchestrator.OutcomeWarehousePending:
		if err := h.presentDraftWarehouses(bg, result.Task, result.Warehouses); err != nil {
			logger.Error().Err(err).Msg("failed to present draft warehouses")
		}

	case orchestrator.OutcomeFailed:
		h.finishTask(bg, result.Task, "Task "+task.TaskID+" failed: "+result.Message)
		h.notifier.NotifyWizard(bg, "task_failed", []string{
			fmt.Sprintf("task %s (chat %d): %s", task.TaskID, task.ChatID, result.Message),
		})
	}
}

// finishTask ends a task's lifecycle: pending record and context are
// removed and the user is told why.
func (h *Handler) finishTask(ctx context.Context, task *models.SupplyTask, userText string) {
	if err := h.orders.DeleteByTaskID(ctx, task.ChatID, task.TaskID); err != nil {
		h.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to delete pending record")
	}
	if err := h.store.DeleteTaskContext(ctx, task.ChatID, task.TaskID); err != nil {
		h.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to delete task context")
	}
	h.notifier.NotifyUser(ctx, task.ChatID, userText)
}

// presentDraftWarehouses moves the chat to draft-warehouse selection
// when a run stopped because no warehouse could be resolved. The draft's
// ranked candidates become the selectable options.
func (h *Handler) presentDraftWarehouses(ctx context.Context, task *models.SupplyTask, warehouses []models.DraftWarehouse) error {
	state := h.store.State(ctx, task.ChatID)
	state.SelectedTaskID = task.TaskID
	state.DraftStatus = models.DraftSuccess
	state.DraftOperationID = task.DraftOperationID
	state.DraftID = task.DraftID
	state.DraftWarehouses = warehouses
	state.DraftTimeslots = nil
	state.Stage = models.StageDraftWarehouseSelect
	if err := h.persistActive(ctx, state); err != nil {
		return err
	}
	h.notifier.NotifyUser(ctx, task.ChatID, "Pick a warehouse for task "+task.TaskID+".")
	return nil
}

// onTaskEvent mirrors orchestrator progress into the durable task
// context and forwards the user-relevant events. Persistence failures
// are logged, never propagated into the run.
func (h *Handler) onTaskEvent(event models.TaskEvent) {
	if event.Task == nil {
		return
	}
	ctx := context.Background()
	chatID := event.Task.ChatID

	taskCtx, err := h.store.TaskContext(ctx, chatID, event.Task.TaskID)
	if err != nil && !errors.Is(err, db.ErrSessionNotFound) {
		h.logger.Error().Err(err).Str("task_id", event.Task.TaskID).Msg("failed to load task context for event")
		return
	}

	if taskCtx != nil {
		h.applyEventToContext(taskCtx, event)
		taskCtx.UpdatedAt = time.Now().UTC()
		if err := h.store.SaveTaskContext(ctx, taskCtx); err != nil {
			h.logger.Error().Err(err).Str("task_id", event.Task.TaskID).Msg("failed to persist task context")
		}
	}

	switch event.Type {
	case models.TaskEventDraftCreated:
		h.notifier.NotifyUser(ctx, chatID, "Draft reservation created, waiting for confirmation.")
	case models.TaskEventDraftExpired:
		h.notifier.NotifyUser(ctx, chatID, "The draft expired, creating a new one.")
	case models.TaskEventDraftInvalid:
		h.notifier.NotifyUser(ctx, chatID, "The draft was rejected: "+event.Message)
	case models.TaskEventNoCredentials:
		h.notifier.NotifyUser(ctx, chatID, "Connect your seller account before running tasks.")
	case models.TaskEventError:
		h.notifier.NotifyUser(ctx, chatID, "Task error: "+event.Message)
	}
}

func (h *Handler) applyEventToContext(taskCtx *models.TaskContext, event models.TaskEvent) {
	now := event.Timestamp
	switch event.Type {
	case models.TaskEventDraftCreated:
		expires := now.Add(h.cfg.Draft.Lifetime)
		taskCtx.DraftStatus = models.DraftCreating
		taskCtx.DraftOperationID = event.OperationID
		taskCtx.DraftID = 0
		taskCtx.DraftCreatedAt = &now
		taskCtx.DraftExpiresAt = &expires
		taskCtx.DraftError = ""
		taskCtx.DraftWarehouses = nil
		taskCtx.DraftTimeslots = nil

	case models.TaskEventDraftValid:
		taskCtx.DraftStatus = models.DraftSuccess
		taskCtx.DraftID = event.Task.DraftID

	case models.TaskEventDraftExpired, models.TaskEventDraftInvalid, models.TaskEventDraftError:
		taskCtx.DraftStatus = models.DraftFailed
		taskCtx.DraftError = event.Message
	}
}

// handleSupplyCreated finalizes a successful run: resolve the order id
// with bounded retries, enrich with order details best-effort, complete
// the record idempotently, drop the task context and notify the user.
// A failed order-id lookup degrades to reporting the operation id only.
func (h *Handler) handleSupplyCreated(ctx context.Context, task *models.SupplyTask, creds models.Credentials, operationID string) {
	logger := h.logger.With().Str("task_id", task.TaskID).Int64("chat_id", task.ChatID).Logger()

	// Duplicate suppression: a concurrent resumed run may have already
	// completed this task.
	if existing, err := h.orders.GetByTaskID(ctx, task.ChatID, task.TaskID); err == nil &&
		existing.Status == models.OrderStatusSupply {
		logger.Info().Msg("task already completed, skipping duplicate supply-created handling")
		return
	}

	resolution := process.ResolveOrderIDWithRetries(ctx, h.client, creds, operationID, process.RetryPolicy{
		Attempts: h.cfg.Retry.OrderIDAttempts,
		Delay:    h.cfg.Retry.OrderIDDelay,
	})

	record := &models.SupplyOrderRecord{
		ChatID:      task.ChatID,
		TaskID:      task.TaskID,
		OperationID: operationID,
		Warehouse:   task.WarehouseName,
		ClusterID:   task.ClusterID,
		WarehouseID: task.WarehouseID,
		Items:       orderItems(task.Items),
	}
	if task.SelectedTimeslot != nil {
		record.TimeslotFrom = task.SelectedTimeslot.From.Format(time.RFC3339)
		record.TimeslotTo = task.SelectedTimeslot.To.Format(time.RFC3339)
		record.Arrival = task.SelectedTimeslot.From.Format("2006-01-02")
	}

	var details *models.OrderDetails
	if resolution.OK() {
		record.OrderID = resolution.First()
		details = process.FetchSupplyOrderDetails(ctx, h.client, creds, record.OrderID)
	} else {
		logger.Warn().
			Str("reason", string(resolution.FailureReason)).
			Str("last_error", resolution.LastErrorMessage).
			Msg("order id could not be resolved, completing with operation id only")
	}
	if details != nil {
		record.DropOffName = details.DropOffName
		if details.WarehouseName != "" {
			record.Warehouse = details.WarehouseName
			record.WarehouseName = details.WarehouseName
		}
		if details.WarehouseID != 0 {
			record.WarehouseID = details.WarehouseID
		}
		if details.TimeslotFrom != "" {
			record.TimeslotFrom = details.TimeslotFrom
			record.TimeslotTo = details.TimeslotTo
		}
	}

	stored, duplicate, err := h.orders.CompleteTask(ctx, record)
	if err != nil {
		logger.Error().Err(err).Msg("failed to complete task record")
		h.notifier.NotifyWizard(ctx, "completion_failed", []string{
			fmt.Sprintf("task %s (chat %d): %v", task.TaskID, task.ChatID, err),
		})
		return
	}

	if err := h.store.DeleteTaskContext(ctx, task.ChatID, task.TaskID); err != nil {
		logger.Error().Err(err).Msg("failed to delete task context")
	}
	h.clearSelectedTask(ctx, task.ChatID, task.TaskID)

	if duplicate {
		logger.Info().Msg("completion was a duplicate, not notifying again")
		return
	}

	h.notifier.NotifyUser(ctx, task.ChatID, successMessage(stored))
	h.notifier.NotifyWizard(ctx, "supply_created", []string{
		fmt.Sprintf("task %s (chat %d): order %d, operation %s", task.TaskID, task.ChatID, stored.OrderID, operationID),
	})
}

func (h *Handler) clearSelectedTask(ctx context.Context, chatID int64, taskID string) {
	state := h.store.State(ctx, chatID)
	if state.SelectedTaskID != taskID {
		return
	}
	state.SelectedTaskID = ""
	state.Stage = models.StageOrderDone
	if err := h.store.Save(ctx, state); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to save wizard state")
	}
}

func successMessage(record *models.SupplyOrderRecord) string {
	if record.OrderID != 0 {
		msg := fmt.Sprintf("Supply order %d created.", record.OrderID)
		if record.Warehouse != "" {
			msg += " Warehouse: " + record.Warehouse + "."
		}
		if record.TimeslotFrom != "" {
			msg += fmt.Sprintf(" Timeslot: %s - %s.", record.TimeslotFrom, record.TimeslotTo)
		}
		return msg
	}
	return fmt.Sprintf("Supply order created (operation %s). The order id will be filled in later.", record.OperationID)
}

func orderItems(items []models.TaskItem) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItem{Article: item.Article, SKU: item.SKU, Quantity: item.Quantity})
	}
	return out
}
