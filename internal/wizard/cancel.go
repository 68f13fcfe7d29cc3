package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/process"
)

// Cancel aborts every in-flight run for the chat, deletes its pending
// task records, clears wizard state and re-presents the landing page.
// Safe to invoke from any stage.
func (h *Handler) Cancel(ctx context.Context, chatID int64) error {
	contexts, err := h.store.ListTaskContexts(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to list task contexts: %w", err)
	}
	for _, taskCtx := range contexts {
		h.aborts.Abort(taskCtx.TaskID)
	}

	if err := h.orders.DeleteTasksByChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete pending tasks: %w", err)
	}
	if err := h.store.ClearChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to clear wizard state: %w", err)
	}

	state := h.store.State(ctx, chatID)
	applyCancel(state)
	if err := h.store.Save(ctx, state); err != nil {
		return err
	}

	h.notifier.NotifyUser(ctx, chatID, "Cancelled. Back to the main menu.")
	return nil
}

// CancelSupplyOrder runs the multi-step cancellation saga against the
// marketplace: resolve the order id when unknown, request cancellation,
// poll the cancel status to confirmation, and only then delete the
// local record. Any step failing leaves the record untouched.
func (h *Handler) CancelSupplyOrder(ctx context.Context, chatID int64, taskID string) error {
	record, err := h.orders.GetByTaskID(ctx, chatID, taskID)
	if errors.Is(err, db.ErrOrderNotFound) {
		h.notifier.NotifyUser(ctx, chatID, "That order no longer exists.")
		return nil
	}
	if err != nil {
		return err
	}

	creds, err := h.creds.Get(ctx, chatID)
	if err != nil {
		state := h.store.State(ctx, chatID)
		return h.requireAuth(ctx, state, err)
	}

	orderID := record.OrderID
	if orderID == 0 {
		resolution := process.ResolveOrderIDWithRetries(ctx, h.client, creds, record.OperationID, process.RetryPolicy{
			Attempts: h.cfg.Retry.OrderIDAttempts,
			Delay:    h.cfg.Retry.OrderIDDelay,
		})
		if !resolution.OK() {
			h.notifier.NotifyUser(ctx, chatID, fmt.Sprintf(
				"Cannot cancel yet: the order id is unknown (%s). The order record is kept.", resolution.FailureReason))
			return nil
		}
		orderID = resolution.First()
		if err := h.orders.SetOrderID(ctx, chatID, taskID, orderID); err != nil {
			h.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to persist resolved order id")
		}
	}

	operationID, err := h.client.CancelOrder(ctx, creds, orderID)
	if err != nil {
		h.notifier.NotifyUser(ctx, chatID, "Cancellation request failed: "+err.Error())
		return nil
	}

	status := process.WaitForCancelStatus(ctx, h.client, creds, operationID, process.RetryPolicy{
		Attempts: h.cfg.Retry.CancelAttempts,
		Delay:    h.cfg.Retry.CancelDelay,
	})
	if !process.IsCancelSuccessful(status) {
		h.notifier.NotifyUser(ctx, chatID,
			"Cancellation was not confirmed ("+process.DescribeCancelStatus(status)+"). The order record is kept.")
		return nil
	}

	if err := h.orders.DeleteByTaskID(ctx, chatID, taskID); err != nil {
		return fmt.Errorf("failed to delete cancelled order record: %w", err)
	}

	state := h.store.State(ctx, chatID)
	if state.Stage == models.StageOrderDetails {
		state.Stage = models.StageOrdersList
		if err := h.store.Save(ctx, state); err != nil {
			return err
		}
	}

	h.notifier.NotifyUser(ctx, chatID, fmt.Sprintf("Supply order %d cancelled.", orderID))
	return nil
}
