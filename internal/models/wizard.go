package models

import "time"

// Stage identifies what input the wizard expects next for a chat. It is
// the single source of truth for the chat's position in the flow.
type Stage string

const (
	// Authentication flow.
	StageAuthWelcome      Stage = "auth_welcome"
	StageAuthAPIKey       Stage = "auth_api_key"
	StageAuthClientID     Stage = "auth_client_id"
	StageAuthResetConfirm Stage = "auth_reset_confirm"

	// Main menu and ingestion.
	StageLanding          Stage = "landing"
	StageAwaitSpreadsheet Stage = "await_spreadsheet"

	// Drop-off selection.
	StageAwaitDropOffQuery Stage = "await_drop_off_query"
	StageDropOffSelect     Stage = "drop_off_select"

	// Cluster and warehouse selection.
	StageClusterPrompt        Stage = "cluster_prompt"
	StageClusterSelect        Stage = "cluster_select"
	StageWarehouseSelect      Stage = "warehouse_select"
	StageDraftWarehouseSelect Stage = "draft_warehouse_select"

	// Timeslot and lead time.
	StageTimeslotSelect Stage = "timeslot_select"
	StageAwaitReadyDays Stage = "await_ready_days"

	// Draft lifecycle interstitials.
	StageDraftCreating Stage = "draft_creating"
	StageDraftReady    Stage = "draft_ready"
	StageDraftFailed   Stage = "draft_failed"

	// Confirmation and execution.
	StageConfirmOrder  Stage = "confirm_order"
	StageOrderCreating Stage = "order_creating"
	StageOrderDone     Stage = "order_done"

	// Side branches.
	StageTasksList     Stage = "tasks_list"
	StageTaskDetails   Stage = "task_details"
	StageOrdersList    Stage = "orders_list"
	StageOrderDetails  Stage = "order_details"
	StageCancelConfirm Stage = "cancel_confirm"
)

// WizardState is the per-chat wizard session. One instance per chat;
// stage determines which fields are authoritative.
type WizardState struct {
	ChatID int64 `json:"chat_id"`
	Stage  Stage `json:"stage"`

	// Selections.
	SelectedClusterID      int64     `json:"selected_cluster_id,omitempty"`
	SelectedClusterName    string    `json:"selected_cluster_name,omitempty"`
	SelectedWarehouseID    int64     `json:"selected_warehouse_id,omitempty"`
	SelectedWarehouseName  string    `json:"selected_warehouse_name,omitempty"`
	SelectedDropOffID      int64     `json:"selected_drop_off_id,omitempty"`
	SelectedDropOffName    string    `json:"selected_drop_off_name,omitempty"`
	SelectedTimeslot       *Timeslot `json:"selected_timeslot,omitempty"`
	ReadyInDays            int       `json:"ready_in_days,omitempty"`
	AutoWarehouseSelection bool      `json:"auto_warehouse_selection,omitempty"`

	// Draft lifecycle.
	DraftStatus      DraftStatus      `json:"draft_status,omitempty"`
	DraftOperationID string           `json:"draft_operation_id,omitempty"`
	DraftID          int64            `json:"draft_id,omitempty"`
	DraftCreatedAt   *time.Time       `json:"draft_created_at,omitempty"`
	DraftExpiresAt   *time.Time       `json:"draft_expires_at,omitempty"`
	DraftError       string           `json:"draft_error,omitempty"`
	DraftWarehouses  []DraftWarehouse `json:"draft_warehouses,omitempty"`
	DraftTimeslots   []Timeslot       `json:"draft_timeslots,omitempty"`

	// Collections shown by list pages.
	Clusters     []Cluster           `json:"clusters,omitempty"`
	Warehouses   map[int64][]Warehouse `json:"warehouses,omitempty"`
	DropOffs     []DropOffPoint      `json:"drop_offs,omitempty"`
	Orders       []SupplyOrderRecord `json:"orders,omitempty"`
	PendingTasks []TaskSummary       `json:"pending_tasks,omitempty"`

	// SelectedTaskID points at the active TaskContext, if any. A pointer
	// to a missing context is stale and must be ignored.
	SelectedTaskID string `json:"selected_task_id,omitempty"`
}

// NewWizardState returns a fresh session at the landing stage.
func NewWizardState(chatID int64) *WizardState {
	return &WizardState{ChatID: chatID, Stage: StageLanding, DraftStatus: DraftIdle}
}

// Clone returns a deep copy safe to mutate independently of the
// original. Session snapshots are shared across goroutines only as
// clones.
func (s *WizardState) Clone() *WizardState {
	if s == nil {
		return nil
	}
	out := *s
	if s.SelectedTimeslot != nil {
		slot := *s.SelectedTimeslot
		out.SelectedTimeslot = &slot
	}
	out.DraftCreatedAt = cloneTime(s.DraftCreatedAt)
	out.DraftExpiresAt = cloneTime(s.DraftExpiresAt)
	out.DraftWarehouses = append([]DraftWarehouse(nil), s.DraftWarehouses...)
	out.DraftTimeslots = append([]Timeslot(nil), s.DraftTimeslots...)
	out.Clusters = append([]Cluster(nil), s.Clusters...)
	out.DropOffs = append([]DropOffPoint(nil), s.DropOffs...)
	out.Orders = append([]SupplyOrderRecord(nil), s.Orders...)
	out.PendingTasks = append([]TaskSummary(nil), s.PendingTasks...)
	if s.Warehouses != nil {
		out.Warehouses = make(map[int64][]Warehouse, len(s.Warehouses))
		for clusterID, warehouses := range s.Warehouses {
			out.Warehouses[clusterID] = append([]Warehouse(nil), warehouses...)
		}
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ResetSelections clears every selection and derived draft field. Used by
// the cancel action and when upstream selections change.
func (s *WizardState) ResetSelections() {
	s.SelectedClusterID = 0
	s.SelectedClusterName = ""
	s.SelectedWarehouseID = 0
	s.SelectedWarehouseName = ""
	s.SelectedDropOffID = 0
	s.SelectedDropOffName = ""
	s.SelectedTimeslot = nil
	s.ReadyInDays = 0
	s.AutoWarehouseSelection = false
	s.ResetDraft()
}

// ResetDraft clears the draft lifecycle fields and everything derived
// from a draft (candidate warehouses, timeslots, downstream selections).
func (s *WizardState) ResetDraft() {
	s.DraftStatus = DraftIdle
	s.DraftOperationID = ""
	s.DraftID = 0
	s.DraftCreatedAt = nil
	s.DraftExpiresAt = nil
	s.DraftError = ""
	s.DraftWarehouses = nil
	s.DraftTimeslots = nil
	s.SelectedTimeslot = nil
}

// TaskContext is the durable per-task mirror of the wizard's draft and
// selection fields. It survives independently of WizardState and is the
// source of truth for one task, keyed by chat id + task id.
type TaskContext struct {
	ChatID int64  `json:"chat_id"`
	TaskID string `json:"task_id"`

	// Task is the immutable payload the context was created from.
	Task *SupplyTask `json:"task"`

	SelectedClusterID     int64     `json:"selected_cluster_id,omitempty"`
	SelectedClusterName   string    `json:"selected_cluster_name,omitempty"`
	SelectedWarehouseID   int64     `json:"selected_warehouse_id,omitempty"`
	SelectedWarehouseName string    `json:"selected_warehouse_name,omitempty"`
	SelectedDropOffID     int64     `json:"selected_drop_off_id,omitempty"`
	SelectedDropOffName   string    `json:"selected_drop_off_name,omitempty"`
	SelectedTimeslot      *Timeslot `json:"selected_timeslot,omitempty"`
	ReadyInDays           int       `json:"ready_in_days,omitempty"`

	DraftStatus      DraftStatus      `json:"draft_status,omitempty"`
	DraftOperationID string           `json:"draft_operation_id,omitempty"`
	DraftID          int64            `json:"draft_id,omitempty"`
	DraftCreatedAt   *time.Time       `json:"draft_created_at,omitempty"`
	DraftExpiresAt   *time.Time       `json:"draft_expires_at,omitempty"`
	DraftError       string           `json:"draft_error,omitempty"`
	DraftWarehouses  []DraftWarehouse `json:"draft_warehouses,omitempty"`
	DraftTimeslots   []Timeslot       `json:"draft_timeslots,omitempty"`

	// SummaryItems is the human-readable digest of the task's lines.
	SummaryItems []string `json:"summary_items,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate independently.
func (c *TaskContext) Clone() *TaskContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Task = c.Task.Clone()
	if c.SelectedTimeslot != nil {
		slot := *c.SelectedTimeslot
		out.SelectedTimeslot = &slot
	}
	out.DraftCreatedAt = cloneTime(c.DraftCreatedAt)
	out.DraftExpiresAt = cloneTime(c.DraftExpiresAt)
	out.DraftWarehouses = append([]DraftWarehouse(nil), c.DraftWarehouses...)
	out.DraftTimeslots = append([]Timeslot(nil), c.DraftTimeslots...)
	out.SummaryItems = append([]string(nil), c.SummaryItems...)
	return &out
}

// Validate checks the context identity.
func (c *TaskContext) Validate() error {
	validation := &ValidationErrors{}
	if c.ChatID == 0 {
		validation.Add("chat_id", ErrEmptyChatID)
	}
	if c.TaskID == "" {
		validation.Add("task_id", ErrEmptyTaskID)
	}
	if c.Task == nil {
		validation.Add("task", ErrNoItems)
	}
	return validation.Err()
}

// ApplyToTask copies the context's confirmed selections onto a cloned
// task snapshot, producing the payload the orchestrator runs with.
func (c *TaskContext) ApplyToTask() *SupplyTask {
	task := c.Task.Clone()
	if task == nil {
		return nil
	}
	if c.SelectedClusterID != 0 {
		task.ClusterID = c.SelectedClusterID
	}
	if c.SelectedWarehouseID != 0 {
		task.WarehouseID = c.SelectedWarehouseID
	}
	if c.SelectedDropOffID != 0 {
		task.DropOffWarehouseID = c.SelectedDropOffID
	}
	if c.SelectedTimeslot != nil {
		slot := *c.SelectedTimeslot
		task.SelectedTimeslot = &slot
	}
	if c.ReadyInDays != 0 {
		task.ReadyInDays = c.ReadyInDays
	}
	task.DraftOperationID = c.DraftOperationID
	task.DraftID = c.DraftID
	return task
}
