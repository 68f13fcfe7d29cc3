package models

import (
	"errors"
	"time"
)

// Order record errors.
var (
	ErrEmptyOperationID = errors.New("operation id must not be empty")
)

// OrderStatus is the persistence status of one supply order record.
type OrderStatus string

const (
	// OrderStatusTask marks a pending task that has not become an order yet.
	OrderStatusTask OrderStatus = "task"

	// OrderStatusSupply marks a created supply order.
	OrderStatusSupply OrderStatus = "supply"

	// OrderStatusFailedNoOrderID marks a terminal failure: the order may
	// exist remotely but its id could never be resolved.
	OrderStatusFailedNoOrderID OrderStatus = "failed_no_order_id"
)

// OrderItem is one denormalized line of a stored order.
type OrderItem struct {
	Article  string `json:"article"`
	SKU      int64  `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
}

// SupplyOrderRecord is the durable row for a task or completed order,
// keyed by chat + task/operation id.
type SupplyOrderRecord struct {
	ID          string      `json:"id"`
	ChatID      int64       `json:"chat_id"`
	TaskID      string      `json:"task_id"`
	OperationID string      `json:"operation_id"`
	OrderID     int64       `json:"order_id,omitempty"`
	Status      OrderStatus `json:"status"`

	// Task holds the replayable task payload while Status is task.
	Task *SupplyTask `json:"task,omitempty"`

	// Denormalized display fields.
	Arrival       string      `json:"arrival,omitempty"`
	Warehouse     string      `json:"warehouse,omitempty"`
	DropOffName   string      `json:"drop_off_name,omitempty"`
	ClusterID     int64       `json:"cluster_id,omitempty"`
	ClusterName   string      `json:"cluster_name,omitempty"`
	WarehouseID   int64       `json:"warehouse_id,omitempty"`
	WarehouseName string      `json:"warehouse_name,omitempty"`
	TimeslotFrom  string      `json:"timeslot_from,omitempty"`
	TimeslotTo    string      `json:"timeslot_to,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`

	// FailureCode/FailureMessage capture why order-id resolution gave up
	// when Status is failed_no_order_id.
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks identity fields before the record is written.
func (r *SupplyOrderRecord) Validate() error {
	validation := &ValidationErrors{}
	if r.ChatID == 0 {
		validation.Add("chat_id", ErrEmptyChatID)
	}
	if r.TaskID == "" {
		validation.Add("task_id", ErrEmptyTaskID)
	}
	return validation.Err()
}

// TaskSummary is the short digest line published for one pending task.
type TaskSummary struct {
	ChatID        int64     `json:"chat_id"`
	TaskID        string    `json:"task_id"`
	City          string    `json:"city"`
	WarehouseName string    `json:"warehouse_name"`
	ItemCount     int       `json:"item_count"`
	LastDay       time.Time `json:"last_day"`
	CreatedAt     time.Time `json:"created_at"`
}
