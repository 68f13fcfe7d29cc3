package models

import "time"

// Credentials authenticate one chat's calls against the marketplace API.
type Credentials struct {
	ChatID   int64  `json:"chat_id"`
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// Empty reports whether either credential half is missing.
func (c Credentials) Empty() bool {
	return c.ClientID == "" || c.APIKey == ""
}

// Cluster is a geographic grouping of warehouses used to scope search.
type Cluster struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Warehouse is a storage warehouse inside a cluster.
type Warehouse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	ClusterID int64  `json:"cluster_id,omitempty"`
}

// DropOffPoint is the logistics location where goods are handed to the carrier.
type DropOffPoint struct {
	WarehouseID int64  `json:"warehouse_id"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
}

// Timeslot is one delivery window candidate for a draft.
type Timeslot struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether both edges of the window are present.
func (t Timeslot) Valid() bool {
	return !t.From.IsZero() && !t.To.IsZero()
}

// DraftWarehouse is a candidate supply warehouse returned by a successful
// draft, in the priority order the marketplace ranked them.
type DraftWarehouse struct {
	WarehouseID int64  `json:"warehouse_id"`
	Name        string `json:"name"`
	Rank        int    `json:"rank"`
}

// DraftStatus tracks the lifecycle of a provisional marketplace draft.
type DraftStatus string

const (
	DraftIdle     DraftStatus = "idle"
	DraftCreating DraftStatus = "creating"
	DraftSuccess  DraftStatus = "success"
	DraftFailed   DraftStatus = "failed"
)

// OrderDetails is the best-effort enrichment fetched for a created order.
type OrderDetails struct {
	OrderID          int64  `json:"order_id"`
	DropOffID        int64  `json:"drop_off_id,omitempty"`
	DropOffName      string `json:"drop_off_name,omitempty"`
	DropOffAddress   string `json:"drop_off_address,omitempty"`
	WarehouseID      int64  `json:"warehouse_id,omitempty"`
	WarehouseName    string `json:"warehouse_name,omitempty"`
	WarehouseAddress string `json:"warehouse_address,omitempty"`
	TimeslotFrom     string `json:"timeslot_from,omitempty"`
	TimeslotTo       string `json:"timeslot_to,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Label            string `json:"label,omitempty"`
}
