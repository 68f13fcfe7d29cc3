package orchestrator

import (
	"context"
	"strings"

	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/process"
)

// draftOutcome classifies one pass of the draft lifecycle machine.
type draftOutcome int

const (
	draftReady draftOutcome = iota
	draftFailed
	draftExpired
	draftError
	draftTimeout
	draftAborted
	draftDeadline
	// draftFatal ends the task without consuming recreation attempts
	// (unresolvable SKUs, validation failures).
	draftFatal
)

// ensureDraft brings the run to a valid draft, recreating failed or
// expired drafts up to the configured budget. A previously known
// operation id is probed once and reused when still valid rather than
// orphaning the remote draft.
func (t *taskRun) ensureDraft(ctx context.Context) (draftOutcome, string) {
	var reasons []string

	for attempt := 0; attempt <= t.runner.cfg.RecreateAttempts; attempt++ {
		if t.ctxAborted(ctx) {
			return draftAborted, ""
		}
		if t.expired() {
			return draftDeadline, ""
		}

		outcome, reason := t.driveDraftOnce(ctx, attempt)
		switch outcome {
		case draftReady:
			return draftReady, ""
		case draftAborted, draftDeadline, draftFatal:
			return outcome, reason
		case draftFailed, draftExpired, draftError, draftTimeout:
			if reason != "" {
				reasons = append(reasons, reason)
			}
			// Discard everything derived from the dead draft before
			// the next recreation attempt.
			t.resetDraftState()
			if err := t.sleep(ctx, t.runner.cfg.RecreatePause); err != nil {
				return draftAborted, ""
			}
		}
	}

	msg := "draft creation budget exhausted"
	if len(reasons) > 0 {
		msg += ": " + strings.Join(dedupeStrings(reasons), "; ")
	}
	t.event(models.TaskEventDraftError, "", msg)
	return draftError, msg
}

// driveDraftOnce performs one create-and-poll cycle. On the first
// attempt an existing operation id is probed instead of creating anew.
func (t *taskRun) driveDraftOnce(ctx context.Context, attempt int) (draftOutcome, string) {
	if t.task.DraftOperationID == "" || attempt > 0 {
		if outcome, reason := t.createDraft(ctx); outcome != draftReady {
			return outcome, reason
		}
	} else {
		t.event(models.TaskEventSupplyStatus, t.task.DraftOperationID, "reusing existing draft operation")
	}
	return t.pollDraft(ctx)
}

// createDraft resolves SKUs, issues the draft-create call and records
// the operation id and lifetime window.
func (t *taskRun) createDraft(ctx context.Context) (draftOutcome, string) {
	items, err := process.ResolveSKUs(ctx, t.runner.client, t.creds, t.task.Items)
	if err != nil {
		if t.ctxAborted(ctx) {
			return draftAborted, ""
		}
		// Unresolved SKUs are a hard failure for the whole task, not a
		// recreation trigger.
		t.event(models.TaskEventError, "", err.Error())
		return draftFatal, err.Error()
	}
	t.task.Items = items

	draftItems := make([]marketplace.DraftItem, 0, len(items))
	for _, item := range items {
		draftItems = append(draftItems, marketplace.DraftItem{SKU: item.SKU, Quantity: item.Quantity})
	}

	var clusterIDs []int64
	if t.task.ClusterID > 0 {
		clusterIDs = []int64{t.task.ClusterID}
	}

	operationID, err := t.runner.client.CreateDraft(ctx, t.creds, clusterIDs, t.task.DropOffWarehouseID, draftItems, "CREATE_TYPE_CROSSDOCK")
	if err != nil {
		if t.ctxAborted(ctx) {
			return draftAborted, ""
		}
		t.logger.Warn().Err(err).Msg("draft create call failed")
		return draftError, "draft create failed: " + err.Error()
	}

	now := t.runner.now().UTC()
	expires := now.Add(t.runner.cfg.Lifetime)
	t.task.DraftOperationID = operationID
	t.task.DraftID = 0

	t.event(models.TaskEventDraftCreated, operationID, "")
	t.logger.Info().
		Str("operation_id", operationID).
		Time("expires_at", expires).
		Msg("draft created")
	return draftReady, ""
}

// pollDraft polls draft-info until a terminal classification. Every poll
// response maps to exactly one of: success, failed, expired, error on
// the final attempt, or timeout when the budget runs out.
func (t *taskRun) pollDraft(ctx context.Context) (draftOutcome, string) {
	var lastErr string

	for attempt := 1; attempt <= t.runner.cfg.PollAttempts; attempt++ {
		if t.ctxAborted(ctx) {
			return draftAborted, ""
		}
		if t.expired() {
			return draftDeadline, ""
		}

		info, err := t.runner.client.GetDraftInfo(ctx, t.creds, t.task.DraftOperationID)
		switch {
		case err != nil:
			if t.ctxAborted(ctx) {
				return draftAborted, ""
			}
			lastErr = err.Error()
			if attempt == t.runner.cfg.PollAttempts {
				t.event(models.TaskEventDraftError, t.task.DraftOperationID, lastErr)
				return draftError, "draft polling failed: " + lastErr
			}
			t.logger.Debug().Err(err).Int("attempt", attempt).Msg("draft info call failed")

		case info.Status == marketplace.StatusSuccess:
			t.task.DraftID = int64(info.DraftID)
			t.draftWarehouses = append([]models.DraftWarehouse(nil), info.Warehouses...)
			t.event(models.TaskEventDraftValid, t.task.DraftOperationID, "")
			return draftReady, ""

		case info.Status == marketplace.StatusFailed || len(info.Errors) > 0:
			reason := info.ErrorText()
			if reason == "" {
				reason = "draft rejected"
			}
			t.event(models.TaskEventDraftInvalid, t.task.DraftOperationID, reason)
			return draftFailed, reason

		case info.Status == marketplace.StatusExpired:
			t.event(models.TaskEventDraftExpired, t.task.DraftOperationID, "")
			return draftExpired, "draft expired"
		}

		if err := t.sleep(ctx, t.runner.cfg.PollInterval); err != nil {
			return draftAborted, ""
		}
	}

	if lastErr != "" {
		return draftTimeout, "draft polling timed out: " + lastErr
	}
	return draftTimeout, "draft polling timed out"
}

// resetDraftState discards the operation id, draft id and every derived
// selection before a recreation attempt.
func (t *taskRun) resetDraftState() {
	t.task.DraftOperationID = ""
	t.task.DraftID = 0
	t.task.SelectedTimeslot = nil
	t.draftWarehouses = nil
	if !t.explicitWarehouse {
		t.task.WarehouseID = 0
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
