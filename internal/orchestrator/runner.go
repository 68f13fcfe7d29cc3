// Package orchestrator drives a single supply task from draft creation
// through warehouse and timeslot resolution to order creation, emitting
// lifecycle events along the way.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/process"
)

// Runner errors.
var (
	ErrNilTask = errors.New("task must not be nil")
)

// Outcome is the terminal classification of one run.
type Outcome string

const (
	// OutcomeCompleted means the order-create call was issued and its
	// operation id emitted.
	OutcomeCompleted Outcome = "completed"

	// OutcomeAborted means the run was cancelled cooperatively. Not an
	// error; no events are emitted after the abort is observed.
	OutcomeAborted Outcome = "aborted"

	// OutcomeWindowExpired means the task deadline passed before a
	// valid timeslot was secured. Terminal, not an error.
	OutcomeWindowExpired Outcome = "window_expired"

	// OutcomeWarehousePending means no warehouse could be resolved
	// without user input; the caller re-runs once a selection exists.
	OutcomeWarehousePending Outcome = "warehouse_pending"

	// OutcomeFailed means a terminal failure (draft budget exhausted,
	// unresolved SKUs, RPC failure on the final attempt).
	OutcomeFailed Outcome = "failed"
)

// Result is what one run ends with. Warehouses carries the draft's
// ranked candidates so a warehouse_pending outcome can be presented for
// selection.
type Result struct {
	Outcome     Outcome
	OperationID string
	Task        *models.SupplyTask
	Warehouses  []models.DraftWarehouse
	Message     string
}

// EmitFunc receives every lifecycle event of a run.
type EmitFunc func(models.TaskEvent)

// RunParams parameterizes one run. Lead time and drop-off are part of
// the task payload itself.
type RunParams struct {
	Task        *models.SupplyTask
	Credentials models.Credentials
	Emit        EmitFunc
}

// Runner executes supply tasks against the marketplace. It owns no
// persistent state; callers persist what the emitted events describe.
type Runner struct {
	client marketplace.Client
	cfg    config.DraftConfig
	logger zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(client marketplace.Client, cfg config.DraftConfig) *Runner {
	return &Runner{
		client: client,
		cfg:    cfg,
		logger: logging.Component("orchestrator"),
		now:    time.Now,
	}
}

// Run drives the task to a terminal outcome. Cancellation of ctx is
// observed at every suspension point and surfaces as OutcomeAborted.
func (r *Runner) Run(ctx context.Context, p RunParams) (Result, error) {
	if p.Task == nil {
		return Result{}, ErrNilTask
	}
	task := p.Task.Clone()
	emit := p.Emit
	if emit == nil {
		emit = func(models.TaskEvent) {}
	}

	run := &taskRun{
		runner:            r,
		task:              task,
		creds:             p.Credentials,
		emit:              emit,
		explicitWarehouse: task.WarehouseID > 0,
		logger:            r.logger.With().Str("task_id", task.TaskID).Int64("chat_id", task.ChatID).Logger(),
	}
	return run.execute(ctx)
}

// taskRun is the per-run state of one execution.
type taskRun struct {
	runner *Runner
	task   *models.SupplyTask
	creds  models.Credentials
	emit   EmitFunc
	logger zerolog.Logger

	aborted bool

	// explicitWarehouse marks a user-chosen warehouse id, which survives
	// draft recreation; auto-selected ids do not.
	explicitWarehouse bool

	draftWarehouses []models.DraftWarehouse
}

func (t *taskRun) execute(ctx context.Context) (Result, error) {
	if t.creds.Empty() {
		t.event(models.TaskEventNoCredentials, "", "no marketplace credentials for chat")
		return t.result(OutcomeFailed, "", "missing credentials"), nil
	}
	if err := t.task.Validate(); err != nil {
		t.event(models.TaskEventError, "", err.Error())
		return t.result(OutcomeFailed, "", err.Error()), nil
	}
	if t.expired() {
		t.event(models.TaskEventWindowExpired, "", "deadline passed before run started")
		return t.result(OutcomeWindowExpired, "", ""), nil
	}

	if outcome, msg := t.ensureDraft(ctx); outcome != draftReady {
		return t.finishDraftOutcome(outcome, msg), nil
	}

	warehouseID, ok := t.resolveWarehouse()
	if !ok {
		t.event(models.TaskEventWarehousePending, "", "no warehouse selected and auto-select disabled")
		return t.result(OutcomeWarehousePending, "", ""), nil
	}
	t.task.WarehouseID = warehouseID

	slot, outcome := t.resolveTimeslot(ctx, warehouseID)
	switch outcome {
	case slotFound:
	case slotAborted:
		return t.abortResult(), nil
	case slotDeadline:
		t.event(models.TaskEventWindowExpired, "", "deadline passed before a timeslot was secured")
		return t.result(OutcomeWindowExpired, "", ""), nil
	default:
		t.event(models.TaskEventError, "", "timeslot search failed")
		return t.result(OutcomeFailed, "", "timeslot search failed"), nil
	}
	t.task.SelectedTimeslot = &slot

	operationID, err := t.runner.client.CreateOrder(ctx, t.creds, t.task.DraftID, warehouseID, slot)
	if err != nil {
		if t.ctxAborted(ctx) {
			return t.abortResult(), nil
		}
		t.event(models.TaskEventError, "", "order creation failed: "+err.Error())
		return t.result(OutcomeFailed, "", err.Error()), nil
	}

	t.event(models.TaskEventSupplyCreated, operationID, "")
	t.logger.Info().Str("operation_id", operationID).Msg("supply order creation started")
	return t.result(OutcomeCompleted, operationID, ""), nil
}

// resolveWarehouse picks the warehouse the order will target: the
// explicit selection when present, otherwise the top-ranked draft
// candidate when auto-select is on.
func (t *taskRun) resolveWarehouse() (int64, bool) {
	if t.task.WarehouseID > 0 {
		return t.task.WarehouseID, true
	}
	if t.task.WarehouseAutoSelect && len(t.draftWarehouses) > 0 {
		return t.draftWarehouses[0].WarehouseID, true
	}
	return 0, false
}

type slotOutcome int

const (
	slotFound slotOutcome = iota
	slotDeadline
	slotAborted
	slotError
)

// resolveTimeslot returns the confirmed timeslot, searching within
// [now+readyInDays, lastDay] until one appears or the deadline passes.
// An already-selected valid slot is kept as-is.
func (t *taskRun) resolveTimeslot(ctx context.Context, warehouseID int64) (models.Timeslot, slotOutcome) {
	if t.task.SelectedTimeslot != nil && t.task.SelectedTimeslot.Valid() {
		return *t.task.SelectedTimeslot, slotFound
	}

	for {
		if t.ctxAborted(ctx) {
			return models.Timeslot{}, slotAborted
		}
		if t.expired() {
			return models.Timeslot{}, slotDeadline
		}

		now := t.runner.now()
		toDays := int(t.task.LastDay.Sub(now).Hours()/24) + 1
		window := process.ComputeTimeslotWindow(t.task.ReadyInDays, toDays, now)

		slots, err := t.runner.client.GetDraftTimeslots(ctx, t.creds, t.task.DraftID, []int64{warehouseID}, window.FromISO, window.ToISO)
		if err != nil {
			if t.ctxAborted(ctx) {
				return models.Timeslot{}, slotAborted
			}
			t.logger.Warn().Err(err).Msg("timeslot listing failed")
		} else {
			for _, slot := range slots.Timeslots {
				if slot.Valid() && slot.From.Before(t.task.LastDay) {
					return slot, slotFound
				}
			}
			t.event(models.TaskEventTimeslotMissing, "", "no timeslot available yet")
		}

		if err := t.sleep(ctx, t.runner.cfg.PollInterval); err != nil {
			return models.Timeslot{}, slotAborted
		}
	}
}

func (t *taskRun) finishDraftOutcome(outcome draftOutcome, msg string) Result {
	switch outcome {
	case draftAborted:
		return t.abortResult()
	case draftDeadline:
		t.event(models.TaskEventWindowExpired, "", "deadline passed during draft creation")
		return t.result(OutcomeWindowExpired, "", "")
	default:
		return t.result(OutcomeFailed, "", msg)
	}
}

// event emits one lifecycle event unless the run has been aborted.
// After an abort no further events may reach observers.
func (t *taskRun) event(eventType models.TaskEventType, operationID, message string) {
	if t.aborted {
		return
	}
	t.emit(models.TaskEvent{
		Type:        eventType,
		Task:        t.task.Clone(),
		OperationID: operationID,
		Message:     message,
		Timestamp:   t.runner.now().UTC(),
	})
}

func (t *taskRun) result(outcome Outcome, operationID, message string) Result {
	return Result{
		Outcome:     outcome,
		OperationID: operationID,
		Task:        t.task.Clone(),
		Warehouses:  append([]models.DraftWarehouse(nil), t.draftWarehouses...),
		Message:     message,
	}
}

func (t *taskRun) abortResult() Result {
	t.aborted = true
	return t.result(OutcomeAborted, "", "")
}

func (t *taskRun) expired() bool {
	return t.task.Expired(t.runner.now())
}

func (t *taskRun) ctxAborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		t.aborted = true
		return true
	}
	return false
}

func (t *taskRun) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		t.aborted = true
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
