package models

import "time"

// TaskEventType tags one orchestrator lifecycle event.
type TaskEventType string

const (
	TaskEventDraftCreated     TaskEventType = "draft.created"
	TaskEventDraftValid       TaskEventType = "draft.valid"
	TaskEventDraftExpired     TaskEventType = "draft.expired"
	TaskEventDraftInvalid     TaskEventType = "draft.invalid"
	TaskEventDraftError       TaskEventType = "draft.error"
	TaskEventTimeslotMissing  TaskEventType = "timeslot.missing"
	TaskEventWarehousePending TaskEventType = "warehouse.pending"
	TaskEventWindowExpired    TaskEventType = "window.expired"
	TaskEventSupplyCreated    TaskEventType = "supply.created"
	TaskEventSupplyStatus     TaskEventType = "supply.status"
	TaskEventNoCredentials    TaskEventType = "credentials.missing"
	TaskEventError            TaskEventType = "error"
)

// TaskEvent is the single event shape the orchestrator emits. Every
// event carries the task snapshot as of emission so observers never need
// to reach back into orchestrator state.
type TaskEvent struct {
	Type        TaskEventType `json:"type"`
	Task        *SupplyTask   `json:"task"`
	OperationID string        `json:"operation_id,omitempty"`
	Message     string        `json:"message,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
