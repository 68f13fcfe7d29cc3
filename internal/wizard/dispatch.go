package wizard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/process"
)

// HandleCallback routes a flat "action:subaction:..." callback string.
// Unknown actions are acknowledged generically instead of erroring: a
// stale keyboard must never crash the chat.
func (h *Handler) HandleCallback(ctx context.Context, chatID int64, data string) error {
	parts := strings.Split(data, ":")
	state := h.store.State(ctx, chatID)

	switch parts[0] {
	case "cluster":
		return h.dispatchCluster(ctx, state, parts[1:])
	case "dropoff":
		return h.dispatchDropOff(ctx, state, parts[1:])
	case "warehouse":
		return h.dispatchWarehouse(ctx, state, parts[1:])
	case "draftwh":
		return h.dispatchDraftWarehouse(ctx, state, parts[1:])
	case "timeslot":
		return h.dispatchTimeslot(ctx, state, parts[1:])
	case "task":
		return h.dispatchTask(ctx, state, parts[1:])
	case "orders":
		return h.dispatchOrders(ctx, state, parts[1:])
	case "auth":
		return h.dispatchAuth(ctx, state, parts[1:])
	case "cancel":
		return h.Cancel(ctx, chatID)
	default:
		h.notifier.NotifyUser(ctx, chatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchCluster(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "prompt":
		creds, err := h.creds.Get(ctx, state.ChatID)
		if err != nil {
			return h.requireAuth(ctx, state, err)
		}
		list, err := h.client.ListClusters(ctx, creds, "CLUSTER_TYPE_OZON")
		if err != nil {
			h.notifier.NotifyUser(ctx, state.ChatID, "Cluster listing failed: "+err.Error())
			return nil
		}
		state.Clusters = list.Clusters
		state.Warehouses = list.WarehousesByCluster
		state.Stage = models.StageClusterSelect
		return h.store.Save(ctx, state)

	case "select":
		id, ok := argInt64(parts, 1)
		if !ok {
			h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
			return nil
		}
		for _, cluster := range state.Clusters {
			if cluster.ID == id {
				applyClusterSelected(state, cluster)
				return h.persistActive(ctx, state)
			}
		}
		h.notifier.NotifyUser(ctx, state.ChatID, "That cluster is no longer available.")
		return nil

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchDropOff(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "search":
		state.Stage = models.StageAwaitDropOffQuery
		return h.store.Save(ctx, state)

	case "select":
		id, ok := argInt64(parts, 1)
		if !ok {
			h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
			return nil
		}
		for _, point := range state.DropOffs {
			if point.WarehouseID == id {
				applyDropOffSelected(state, point)
				return h.persistActive(ctx, state)
			}
		}
		h.notifier.NotifyUser(ctx, state.ChatID, "That drop-off point is no longer available.")
		return nil

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchWarehouse(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "select":
		id, ok := argInt64(parts, 1)
		if !ok {
			h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
			return nil
		}
		for _, warehouses := range state.Warehouses {
			for _, warehouse := range warehouses {
				if warehouse.ID == id {
					applyWarehouseSelected(state, warehouse)
					return h.persistActive(ctx, state)
				}
			}
		}
		h.notifier.NotifyUser(ctx, state.ChatID, "That warehouse is no longer available.")
		return nil

	case "auto":
		applyWarehouseAuto(state)
		return h.persistActive(ctx, state)

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchDraftWarehouse(ctx context.Context, state *models.WizardState, parts []string) error {
	if sub(parts) != "select" {
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
	id, ok := argInt64(parts, 1)
	if !ok {
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
	for _, warehouse := range state.DraftWarehouses {
		if warehouse.WarehouseID == id {
			applyDraftWarehouseSelected(state, warehouse)
			if err := h.loadDraftTimeslots(ctx, state); err != nil {
				return err
			}
			return h.persistActive(ctx, state)
		}
	}
	h.notifier.NotifyUser(ctx, state.ChatID, "That warehouse is not offered by the draft.")
	return nil
}

// loadDraftTimeslots fills the selectable delivery windows for the
// chosen warehouse, bounded by the task's lead time and deadline.
func (h *Handler) loadDraftTimeslots(ctx context.Context, state *models.WizardState) error {
	taskCtx, err := h.store.TaskContext(ctx, state.ChatID, state.SelectedTaskID)
	if errors.Is(err, db.ErrSessionNotFound) || (err == nil && taskCtx.Task == nil) {
		h.notifier.NotifyUser(ctx, state.ChatID, "That task no longer exists.")
		return nil
	}
	if err != nil {
		return err
	}

	creds, err := h.creds.Get(ctx, state.ChatID)
	if err != nil {
		return h.requireAuth(ctx, state, err)
	}

	task := taskCtx.Task
	now := time.Now().UTC()
	toDays := int(task.LastDay.Sub(now).Hours()/24) + 1
	window := process.ComputeTimeslotWindow(state.ReadyInDays, toDays, now)

	slots, err := h.client.GetDraftTimeslots(ctx, creds, state.DraftID, []int64{state.SelectedWarehouseID}, window.FromISO, window.ToISO)
	if err != nil {
		h.notifier.NotifyUser(ctx, state.ChatID, "Timeslot listing failed: "+err.Error())
		return nil
	}

	var options []models.Timeslot
	for _, slot := range slots.Timeslots {
		if slot.Valid() && slot.From.Before(task.LastDay) {
			options = append(options, slot)
		}
	}
	state.DraftTimeslots = options
	if len(options) == 0 {
		h.notifier.NotifyUser(ctx, state.ChatID, "No timeslot available yet, try again shortly.")
	}
	return nil
}

func (h *Handler) dispatchTimeslot(ctx context.Context, state *models.WizardState, parts []string) error {
	if sub(parts) != "select" {
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
	idx, ok := argInt(parts, 1)
	if !ok || idx < 0 || idx >= len(state.DraftTimeslots) {
		h.notifier.NotifyUser(ctx, state.ChatID, "That timeslot is no longer available.")
		return nil
	}
	applyTimeslotSelected(state, state.DraftTimeslots[idx])
	if err := h.persistActive(ctx, state); err != nil {
		return err
	}
	return h.startActiveTask(ctx, state)
}

func (h *Handler) dispatchTask(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "list":
		records, err := h.orders.ListTasks(ctx, state.ChatID)
		if err != nil {
			return err
		}
		state.PendingTasks = state.PendingTasks[:0]
		for _, record := range records {
			if record.Task == nil {
				continue
			}
			state.PendingTasks = append(state.PendingTasks, models.TaskSummary{
				ChatID:        record.ChatID,
				TaskID:        record.TaskID,
				City:          record.Task.City,
				WarehouseName: record.Task.WarehouseName,
				ItemCount:     len(record.Task.Items),
				LastDay:       record.Task.LastDay,
				CreatedAt:     record.CreatedAt,
			})
		}
		state.Stage = models.StageTasksList
		return h.store.Save(ctx, state)

	case "details":
		taskID := arg(parts, 1)
		taskCtx, err := h.store.TaskContext(ctx, state.ChatID, taskID)
		if errors.Is(err, db.ErrSessionNotFound) {
			h.notifier.NotifyUser(ctx, state.ChatID, "That task no longer exists.")
			return nil
		}
		if err != nil {
			return err
		}
		syncFromTaskContext(state, taskCtx)
		state.Stage = models.StageTaskDetails
		return h.store.Save(ctx, state)

	case "select":
		taskID := arg(parts, 1)
		taskCtx, err := h.store.TaskContext(ctx, state.ChatID, taskID)
		if errors.Is(err, db.ErrSessionNotFound) {
			h.notifier.NotifyUser(ctx, state.ChatID, "That task no longer exists.")
			return nil
		}
		if err != nil {
			return err
		}
		syncFromTaskContext(state, taskCtx)
		state.Stage = nextAfterLocation(state)
		return h.store.Save(ctx, state)

	case "run":
		return h.startActiveTask(ctx, state)

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchOrders(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "list":
		records, err := h.orders.List(ctx, state.ChatID)
		if err != nil {
			return err
		}
		state.Orders = state.Orders[:0]
		for _, record := range records {
			if record.Status == models.OrderStatusSupply {
				state.Orders = append(state.Orders, *record)
			}
		}
		state.Stage = models.StageOrdersList
		return h.store.Save(ctx, state)

	case "details":
		state.Stage = models.StageOrderDetails
		return h.store.Save(ctx, state)

	case "cancel":
		taskID := arg(parts, 1)
		if taskID == "" {
			h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
			return nil
		}
		return h.CancelSupplyOrder(ctx, state.ChatID, taskID)

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func (h *Handler) dispatchAuth(ctx context.Context, state *models.WizardState, parts []string) error {
	switch sub(parts) {
	case "reset":
		state.Stage = models.StageAuthResetConfirm
		return h.store.Save(ctx, state)

	case "reset_confirm":
		if err := h.creds.Clear(ctx, state.ChatID); err != nil {
			return fmt.Errorf("failed to clear credentials: %w", err)
		}
		state.Stage = models.StageAuthAPIKey
		h.notifier.NotifyUser(ctx, state.ChatID, "Credentials cleared. Send the new API key.")
		return h.store.Save(ctx, state)

	case "reset_abort":
		state.Stage = models.StageLanding
		return h.store.Save(ctx, state)

	default:
		h.notifier.NotifyUser(ctx, state.ChatID, "Unknown action.")
		return nil
	}
}

func sub(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func arg(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

func argInt64(parts []string, i int) (int64, bool) {
	v, err := strconv.ParseInt(arg(parts, i), 10, 64)
	return v, err == nil
}

func argInt(parts []string, i int) (int, bool) {
	v, err := strconv.Atoi(arg(parts, i))
	return v, err == nil
}
