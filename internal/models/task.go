package models

import (
	"errors"
	"strconv"
	"time"
)

// Task validation errors.
var (
	ErrEmptyTaskID     = errors.New("task id must not be empty")
	ErrEmptyChatID     = errors.New("chat id must not be empty")
	ErrNoItems         = errors.New("task has no line items")
	ErrEmptyArticle    = errors.New("article must not be empty")
	ErrBadQuantity     = errors.New("quantity must be positive")
	ErrMissingDeadline = errors.New("task deadline must be set")
)

// TaskItem is one line item of a supply task. SKU is zero until the
// article has been resolved against the marketplace catalog.
type TaskItem struct {
	Article  string `json:"article"`
	SKU      int64  `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
}

// SupplyTask is the immutable snapshot fed into the orchestrator. It
// carries everything needed to drive one supply request from draft to
// order, independent of any live wizard session.
type SupplyTask struct {
	TaskID        string     `json:"task_id"`
	ChatID        int64      `json:"chat_id"`
	City          string     `json:"city"`
	WarehouseName string     `json:"warehouse_name"`
	// LastDay is the wall-clock deadline for the whole task. Once it
	// passes the task can never complete and is treated as expired.
	LastDay time.Time `json:"last_day"`

	DraftID          int64  `json:"draft_id,omitempty"`
	DraftOperationID string `json:"draft_operation_id,omitempty"`
	OrderFlag        bool   `json:"order_flag"`

	Items []TaskItem `json:"items"`

	ClusterID           int64     `json:"cluster_id,omitempty"`
	WarehouseID         int64     `json:"warehouse_id,omitempty"`
	DropOffWarehouseID  int64     `json:"drop_off_warehouse_id,omitempty"`
	SelectedTimeslot    *Timeslot `json:"selected_timeslot,omitempty"`
	ReadyInDays         int       `json:"ready_in_days,omitempty"`
	WarehouseAutoSelect bool      `json:"warehouse_auto_select,omitempty"`
}

// Validate checks the task snapshot before it is handed to the orchestrator.
func (t *SupplyTask) Validate() error {
	validation := &ValidationErrors{}
	if t.TaskID == "" {
		validation.Add("task_id", ErrEmptyTaskID)
	}
	if t.ChatID == 0 {
		validation.Add("chat_id", ErrEmptyChatID)
	}
	if t.LastDay.IsZero() {
		validation.Add("last_day", ErrMissingDeadline)
	}
	if len(t.Items) == 0 {
		validation.Add("items", ErrNoItems)
	}
	for i, item := range t.Items {
		if item.Article == "" {
			validation.Add(indexedField("items", i), ErrEmptyArticle)
		}
		if item.Quantity <= 0 {
			validation.Add(indexedField("items", i), ErrBadQuantity)
		}
	}
	return validation.Err()
}

// Expired reports whether the task deadline has passed at the given instant.
func (t *SupplyTask) Expired(now time.Time) bool {
	return !t.LastDay.IsZero() && now.After(t.LastDay)
}

// Clone returns a deep copy safe to mutate independently.
func (t *SupplyTask) Clone() *SupplyTask {
	if t == nil {
		return nil
	}
	out := *t
	out.Items = append([]TaskItem(nil), t.Items...)
	if t.SelectedTimeslot != nil {
		slot := *t.SelectedTimeslot
		out.SelectedTimeslot = &slot
	}
	return &out
}

func indexedField(name string, i int) string {
	return name + "[" + strconv.Itoa(i) + "]"
}
