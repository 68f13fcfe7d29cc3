package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/supplywise/supplybot/internal/models"
)

// Order repository errors.
var (
	ErrOrderNotFound = errors.New("supply order record not found")
)

// OrderRepository handles persistence of pending tasks and supply orders.
// It is the only writer of SupplyOrderRecord rows.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// SaveTask inserts or refreshes a pending-task record for replay after
// restart. The record keeps status task until completion.
func (r *OrderRepository) SaveTask(ctx context.Context, record *models.SupplyOrderRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = models.OrderStatusTask

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	taskJSON, err := marshalNullable(record.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	itemsJSON, err := marshalNullable(record.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO supply_orders (
			id, chat_id, task_id, operation_id, order_id, status, task_json,
			arrival, warehouse, drop_off_name, cluster_id, cluster_name,
			warehouse_id, warehouse_name, timeslot_from, timeslot_to,
			items_json, failure_code, failure_message,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(chat_id, task_id) DO UPDATE SET
			operation_id = excluded.operation_id,
			task_json = excluded.task_json,
			arrival = excluded.arrival,
			warehouse = excluded.warehouse,
			drop_off_name = excluded.drop_off_name,
			cluster_id = excluded.cluster_id,
			cluster_name = excluded.cluster_name,
			warehouse_id = excluded.warehouse_id,
			warehouse_name = excluded.warehouse_name,
			timeslot_from = excluded.timeslot_from,
			timeslot_to = excluded.timeslot_to,
			items_json = excluded.items_json,
			updated_at = excluded.updated_at
		WHERE supply_orders.status = 'task'
	`,
		record.ID,
		record.ChatID,
		record.TaskID,
		record.OperationID,
		nullableInt64(record.OrderID),
		string(record.Status),
		taskJSON,
		record.Arrival,
		record.Warehouse,
		record.DropOffName,
		record.ClusterID,
		record.ClusterName,
		record.WarehouseID,
		record.WarehouseName,
		record.TimeslotFrom,
		record.TimeslotTo,
		itemsJSON,
		record.FailureCode,
		record.FailureMessage,
		record.CreatedAt.Format(time.RFC3339),
		record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save task record: %w", err)
	}
	return nil
}

// CompleteTask marks the task as a created supply order. Completion is
// idempotent: once a record for the task id carries status supply, any
// further call returns the stored record unchanged and reports that the
// call was a duplicate.
func (r *OrderRepository) CompleteTask(ctx context.Context, record *models.SupplyOrderRecord) (*models.SupplyOrderRecord, bool, error) {
	if err := record.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid record: %w", err)
	}

	var stored *models.SupplyOrderRecord
	var duplicate bool

	err := r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		existing, err := getByTaskIDTx(ctx, tx, record.ChatID, record.TaskID)
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return err
		}

		if existing != nil && existing.Status == models.OrderStatusSupply {
			stored = existing
			duplicate = true
			return nil
		}

		now := time.Now().UTC()
		record.Status = models.OrderStatusSupply
		record.UpdatedAt = now
		record.CompletedAt = &now
		record.Task = nil
		if existing != nil {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
		} else {
			if record.ID == "" {
				record.ID = uuid.New().String()
			}
			if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
		}

		itemsJSON, err := marshalNullable(record.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal items: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO supply_orders (
				id, chat_id, task_id, operation_id, order_id, status, task_json,
				arrival, warehouse, drop_off_name, cluster_id, cluster_name,
				warehouse_id, warehouse_name, timeslot_from, timeslot_to,
				items_json, failure_code, failure_message,
				created_at, updated_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?, ?)
			ON CONFLICT(chat_id, task_id) DO UPDATE SET
				operation_id = excluded.operation_id,
				order_id = excluded.order_id,
				status = excluded.status,
				task_json = NULL,
				arrival = excluded.arrival,
				warehouse = excluded.warehouse,
				drop_off_name = excluded.drop_off_name,
				cluster_id = excluded.cluster_id,
				cluster_name = excluded.cluster_name,
				warehouse_id = excluded.warehouse_id,
				warehouse_name = excluded.warehouse_name,
				timeslot_from = excluded.timeslot_from,
				timeslot_to = excluded.timeslot_to,
				items_json = excluded.items_json,
				updated_at = excluded.updated_at,
				completed_at = excluded.completed_at
		`,
			record.ID,
			record.ChatID,
			record.TaskID,
			record.OperationID,
			nullableInt64(record.OrderID),
			string(record.Status),
			record.Arrival,
			record.Warehouse,
			record.DropOffName,
			record.ClusterID,
			record.ClusterName,
			record.WarehouseID,
			record.WarehouseName,
			record.TimeslotFrom,
			record.TimeslotTo,
			itemsJSON,
			record.CreatedAt.Format(time.RFC3339),
			record.UpdatedAt.Format(time.RFC3339),
			now.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to complete task record: %w", err)
		}

		stored = record
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, duplicate, nil
}

// SetOrderID persists a recovered order id for a supply record.
func (r *OrderRepository) SetOrderID(ctx context.Context, chatID int64, taskID string, orderID int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE supply_orders
		SET order_id = ?, updated_at = ?
		WHERE chat_id = ? AND task_id = ?
	`, orderID, time.Now().UTC().Format(time.RFC3339), chatID, taskID)
	if err != nil {
		return fmt.Errorf("failed to set order id: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkFailedWithoutOrderID terminally marks a supply record whose order id
// could never be resolved, keeping the captured failure code and message.
func (r *OrderRepository) MarkFailedWithoutOrderID(ctx context.Context, chatID int64, taskID, code, message string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE supply_orders
		SET status = ?, failure_code = ?, failure_message = ?, updated_at = ?
		WHERE chat_id = ? AND task_id = ? AND status = ?
	`,
		string(models.OrderStatusFailedNoOrderID),
		code,
		message,
		time.Now().UTC().Format(time.RFC3339),
		chatID,
		taskID,
		string(models.OrderStatusSupply),
	)
	if err != nil {
		return fmt.Errorf("failed to mark record failed: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetByTaskID fetches one record by chat and task id.
func (r *OrderRepository) GetByTaskID(ctx context.Context, chatID int64, taskID string) (*models.SupplyOrderRecord, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		FROM supply_orders WHERE chat_id = ? AND task_id = ?
	`, chatID, taskID)
	return scanRecord(row)
}

// List retrieves all records for a chat, newest first.
func (r *OrderRepository) List(ctx context.Context, chatID int64) ([]*models.SupplyOrderRecord, error) {
	return r.query(ctx, selectColumns+`
		FROM supply_orders WHERE chat_id = ? ORDER BY created_at DESC
	`, chatID)
}

// ListByStatus retrieves all records with the given status across chats.
func (r *OrderRepository) ListByStatus(ctx context.Context, status models.OrderStatus) ([]*models.SupplyOrderRecord, error) {
	return r.query(ctx, selectColumns+`
		FROM supply_orders WHERE status = ? ORDER BY created_at
	`, string(status))
}

// ListTasks retrieves pending-task records, optionally scoped to a chat
// (chatID == 0 means all chats).
func (r *OrderRepository) ListTasks(ctx context.Context, chatID int64) ([]*models.SupplyOrderRecord, error) {
	if chatID == 0 {
		return r.ListByStatus(ctx, models.OrderStatusTask)
	}
	return r.query(ctx, selectColumns+`
		FROM supply_orders WHERE status = 'task' AND chat_id = ? ORDER BY created_at
	`, chatID)
}

// ListSupplyMissingOrderID retrieves supply records whose order id was
// never resolved; input to the recovery service.
func (r *OrderRepository) ListSupplyMissingOrderID(ctx context.Context) ([]*models.SupplyOrderRecord, error) {
	return r.query(ctx, selectColumns+`
		FROM supply_orders WHERE status = 'supply' AND order_id IS NULL ORDER BY created_at
	`)
}

// ListTaskSummaries produces digest lines for every pending task.
func (r *OrderRepository) ListTaskSummaries(ctx context.Context) ([]models.TaskSummary, error) {
	records, err := r.ListByStatus(ctx, models.OrderStatusTask)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.TaskSummary, 0, len(records))
	for _, record := range records {
		summary := models.TaskSummary{
			ChatID:    record.ChatID,
			TaskID:    record.TaskID,
			CreatedAt: record.CreatedAt,
		}
		if record.Task != nil {
			summary.City = record.Task.City
			summary.WarehouseName = record.Task.WarehouseName
			summary.ItemCount = len(record.Task.Items)
			summary.LastDay = record.Task.LastDay
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// DeleteByTaskID removes one record by chat and task id.
func (r *OrderRepository) DeleteByTaskID(ctx context.Context, chatID int64, taskID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM supply_orders WHERE chat_id = ? AND task_id = ?
	`, chatID, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// DeleteByID removes one record by primary id.
func (r *OrderRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM supply_orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// DeleteByOperationID removes one record by operation id.
func (r *OrderRepository) DeleteByOperationID(ctx context.Context, operationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM supply_orders WHERE operation_id = ?`, operationID)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// DeleteTasksByChat removes every pending-task record for a chat. Used by
// the wizard's cancel action.
func (r *OrderRepository) DeleteTasksByChat(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM supply_orders WHERE chat_id = ? AND status = 'task'
	`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete pending tasks: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, chat_id, task_id, operation_id, order_id, status, task_json,
		arrival, warehouse, drop_off_name, cluster_id, cluster_name,
		warehouse_id, warehouse_name, timeslot_from, timeslot_to,
		items_json, failure_code, failure_message,
		created_at, updated_at, completed_at
`

func (r *OrderRepository) query(ctx context.Context, query string, args ...any) ([]*models.SupplyOrderRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.SupplyOrderRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.SupplyOrderRecord, error) {
	var (
		record      models.SupplyOrderRecord
		status      string
		orderID     sql.NullInt64
		taskJSON    sql.NullString
		itemsJSON   sql.NullString
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&record.ChatID,
		&record.TaskID,
		&record.OperationID,
		&orderID,
		&status,
		&taskJSON,
		&record.Arrival,
		&record.Warehouse,
		&record.DropOffName,
		&record.ClusterID,
		&record.ClusterName,
		&record.WarehouseID,
		&record.WarehouseName,
		&record.TimeslotFrom,
		&record.TimeslotTo,
		&itemsJSON,
		&record.FailureCode,
		&record.FailureMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	record.Status = models.OrderStatus(status)
	if orderID.Valid {
		record.OrderID = orderID.Int64
	}
	if taskJSON.Valid && taskJSON.String != "" {
		var task models.SupplyTask
		if err := json.Unmarshal([]byte(taskJSON.String), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
		}
		record.Task = &task
	}
	if itemsJSON.Valid && itemsJSON.String != "" {
		if err := json.Unmarshal([]byte(itemsJSON.String), &record.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
	}
	if record.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		parsed, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		record.CompletedAt = &parsed
	}
	return &record, nil
}

func getByTaskIDTx(ctx context.Context, tx *sql.Tx, chatID int64, taskID string) (*models.SupplyOrderRecord, error) {
	row := tx.QueryRowContext(ctx, selectColumns+`
		FROM supply_orders WHERE chat_id = ? AND task_id = ?
	`, chatID, taskID)
	return scanRecord(row)
}

func marshalNullable(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	if s == "null" {
		return nil, nil
	}
	return &s, nil
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
