// Package marketplace is the typed client for the seller supply API.
package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/supplywise/supplybot/internal/models"
)

// APIError is a non-2xx response from the marketplace.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("marketplace api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("marketplace api: status %d", e.StatusCode)
}

// IsForbiddenRole reports whether the error is the non-retryable
// "missing required role" permission failure, however deeply wrapped.
func IsForbiddenRole(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 403 && strings.Contains(strings.ToLower(apiErr.Message), "required role")
}

// FlexInt64 decodes an integer that the API may send as a number or a
// numeric string.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not a numeric id: %s", string(data))
	}
	*f = FlexInt64(v)
	return nil
}

// ClusterList is the response of the cluster listing call.
type ClusterList struct {
	Clusters            []models.Cluster             `json:"clusters"`
	WarehousesByCluster map[int64][]models.Warehouse `json:"warehouses_by_cluster"`
}

// DraftItem is one line of a draft-create request.
type DraftItem struct {
	SKU      int64 `json:"sku"`
	Quantity int   `json:"quantity"`
}

// Draft info statuses reported by the API.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
	StatusPending = "PENDING"
)

// DraftInfo is the polled state of a draft-create operation.
type DraftInfo struct {
	Status     string                  `json:"status"`
	DraftID    FlexInt64               `json:"draft_id,omitempty"`
	Warehouses []models.DraftWarehouse `json:"warehouses,omitempty"`
	Errors     []DraftError            `json:"errors,omitempty"`
}

// DraftError is one validation error attached to a failed draft.
type DraftError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorText joins draft errors into one reason string.
func (d *DraftInfo) ErrorText() string {
	if len(d.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Errors))
	for _, e := range d.Errors {
		if e.Code != "" && e.Message != "" {
			parts = append(parts, e.Code+": "+e.Message)
			continue
		}
		parts = append(parts, e.Code+e.Message)
	}
	return strings.Join(parts, "; ")
}

// TimeslotList is the response of the draft timeslot listing call.
type TimeslotList struct {
	Timeslots []models.Timeslot `json:"timeslots"`
}

// CreateStatus is the polled state of an order-create operation. Order
// ids may arrive top-level or nested under result, as numbers or numeric
// strings; use OrderIDs in internal/process to normalize.
type CreateStatus struct {
	Status   string          `json:"status"`
	OrderIDs json.RawMessage `json:"order_ids,omitempty"`
	Result   *CreateResult   `json:"result,omitempty"`
	ErrorMsg string          `json:"error_message,omitempty"`
}

// CreateResult is the nested result of a create-status response.
type CreateResult struct {
	OrderIDs json.RawMessage `json:"order_ids,omitempty"`
}

// CancelStatus is the polled state of an order-cancel operation.
type CancelStatus struct {
	Status string        `json:"status"`
	Result *CancelResult `json:"result,omitempty"`
}

// CancelResult carries cancellation details per supply.
type CancelResult struct {
	IsOrderCancelled bool           `json:"is_order_cancelled"`
	Supplies         []CancelSupply `json:"supplies,omitempty"`
}

// CancelSupply is the cancel state of one supply inside an order.
type CancelSupply struct {
	SupplyID          int64 `json:"supply_id"`
	IsSupplyCancelled bool  `json:"is_supply_cancelled"`
}

// Order is the detail shape returned by the order listing call.
type Order struct {
	OrderID  int64         `json:"order_id"`
	DropOff  *OrderDropOff `json:"drop_off,omitempty"`
	Supplies []OrderSupply `json:"supplies,omitempty"`
	Timeslot *OrderWindow  `json:"timeslot,omitempty"`
}

// OrderDropOff is the drop-off point attached to an order.
type OrderDropOff struct {
	WarehouseID int64  `json:"warehouse_id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
}

// OrderSupply is one supply inside an order, carrying the storage warehouse.
type OrderSupply struct {
	SupplyID         int64  `json:"supply_id"`
	WarehouseID      int64  `json:"storage_warehouse_id"`
	WarehouseName    string `json:"storage_warehouse_name"`
	WarehouseAddress string `json:"storage_warehouse_address"`
}

// OrderWindow is the confirmed timeslot window with its IANA timezone.
type OrderWindow struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Timezone string `json:"timezone"`
}
