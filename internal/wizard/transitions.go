package wizard

import (
	"github.com/supplywise/supplybot/internal/models"
)

// Stage transitions are pure functions over WizardState. Each reducer
// re-derives the downstream fields its selection invalidates, so the
// state can never carry a cluster from one flow and a draft from
// another.

// applyClusterSelected records a cluster choice and invalidates every
// selection derived from the previous cluster.
func applyClusterSelected(state *models.WizardState, cluster models.Cluster) {
	changed := state.SelectedClusterID != 0 && state.SelectedClusterID != cluster.ID
	state.SelectedClusterID = cluster.ID
	state.SelectedClusterName = cluster.Name
	if changed {
		state.SelectedWarehouseID = 0
		state.SelectedWarehouseName = ""
		state.ResetDraft()
	}
	state.Stage = nextAfterLocation(state)
}

// applyDropOffSelected records a drop-off choice; selecting a drop-off
// before a cluster is legal, both orderings converge on warehouseSelect.
func applyDropOffSelected(state *models.WizardState, point models.DropOffPoint) {
	changed := state.SelectedDropOffID != 0 && state.SelectedDropOffID != point.WarehouseID
	state.SelectedDropOffID = point.WarehouseID
	state.SelectedDropOffName = point.Name
	if changed {
		state.SelectedWarehouseID = 0
		state.SelectedWarehouseName = ""
		state.ResetDraft()
	}
	state.Stage = nextAfterLocation(state)
}

// nextAfterLocation routes to warehouse selection once both cluster and
// drop-off are known, otherwise prompts for the missing half.
func nextAfterLocation(state *models.WizardState) models.Stage {
	switch {
	case state.SelectedClusterID != 0 && state.SelectedDropOffID != 0:
		return models.StageWarehouseSelect
	case state.SelectedClusterID == 0:
		return models.StageClusterPrompt
	default:
		return models.StageAwaitDropOffQuery
	}
}

// applyWarehouseSelected records the storage warehouse choice.
func applyWarehouseSelected(state *models.WizardState, warehouse models.Warehouse) {
	state.SelectedWarehouseID = warehouse.ID
	state.SelectedWarehouseName = warehouse.Name
	state.AutoWarehouseSelection = false
	state.Stage = models.StageAwaitReadyDays
}

// applyWarehouseAuto opts into first-available warehouse selection.
func applyWarehouseAuto(state *models.WizardState) {
	state.SelectedWarehouseID = 0
	state.SelectedWarehouseName = ""
	state.AutoWarehouseSelection = true
	state.Stage = models.StageAwaitReadyDays
}

// applyDraftWarehouseSelected picks one of the draft's ranked candidates.
func applyDraftWarehouseSelected(state *models.WizardState, warehouse models.DraftWarehouse) {
	state.SelectedWarehouseID = warehouse.WarehouseID
	state.SelectedWarehouseName = warehouse.Name
	state.AutoWarehouseSelection = false
	state.Stage = models.StageTimeslotSelect
}

// applyTimeslotSelected records the timeslot choice.
func applyTimeslotSelected(state *models.WizardState, slot models.Timeslot) {
	state.SelectedTimeslot = &slot
	state.Stage = models.StageConfirmOrder
}

// applyReadyDays records a validated ready-days value.
func applyReadyDays(state *models.WizardState, days int) {
	state.ReadyInDays = days
	state.Stage = models.StageConfirmOrder
}

// applyCancel resets the whole session back to the landing page.
func applyCancel(state *models.WizardState) {
	state.ResetSelections()
	state.SelectedTaskID = ""
	state.PendingTasks = nil
	state.Stage = models.StageLanding
}

// syncFromTaskContext copies the durable task context over the chat
// state's per-task mirror fields. The context wins over any stale
// in-memory value.
func syncFromTaskContext(state *models.WizardState, taskCtx *models.TaskContext) {
	state.SelectedTaskID = taskCtx.TaskID
	state.SelectedClusterID = taskCtx.SelectedClusterID
	state.SelectedClusterName = taskCtx.SelectedClusterName
	state.SelectedWarehouseID = taskCtx.SelectedWarehouseID
	state.SelectedWarehouseName = taskCtx.SelectedWarehouseName
	state.SelectedDropOffID = taskCtx.SelectedDropOffID
	state.SelectedDropOffName = taskCtx.SelectedDropOffName
	state.SelectedTimeslot = taskCtx.SelectedTimeslot
	state.ReadyInDays = taskCtx.ReadyInDays
	state.DraftStatus = taskCtx.DraftStatus
	state.DraftOperationID = taskCtx.DraftOperationID
	state.DraftID = taskCtx.DraftID
	state.DraftCreatedAt = taskCtx.DraftCreatedAt
	state.DraftExpiresAt = taskCtx.DraftExpiresAt
	state.DraftError = taskCtx.DraftError
	state.DraftWarehouses = taskCtx.DraftWarehouses
	state.DraftTimeslots = taskCtx.DraftTimeslots
}

// syncToTaskContext mirrors the chat state's selections back onto the
// active task context after a transition.
func syncToTaskContext(state *models.WizardState, taskCtx *models.TaskContext) {
	taskCtx.SelectedClusterID = state.SelectedClusterID
	taskCtx.SelectedClusterName = state.SelectedClusterName
	taskCtx.SelectedWarehouseID = state.SelectedWarehouseID
	taskCtx.SelectedWarehouseName = state.SelectedWarehouseName
	taskCtx.SelectedDropOffID = state.SelectedDropOffID
	taskCtx.SelectedDropOffName = state.SelectedDropOffName
	taskCtx.SelectedTimeslot = state.SelectedTimeslot
	taskCtx.ReadyInDays = state.ReadyInDays
	taskCtx.DraftStatus = state.DraftStatus
	taskCtx.DraftOperationID = state.DraftOperationID
	taskCtx.DraftID = state.DraftID
	taskCtx.DraftCreatedAt = state.DraftCreatedAt
	taskCtx.DraftExpiresAt = state.DraftExpiresAt
	taskCtx.DraftError = state.DraftError
	taskCtx.DraftWarehouses = state.DraftWarehouses
	taskCtx.DraftTimeslots = state.DraftTimeslots
}
