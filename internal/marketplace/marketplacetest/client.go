// Package marketplacetest provides a scriptable fake marketplace client
// for tests.
package marketplacetest

import (
	"context"
	"sync"

	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
)

// Client is a function-field fake. Unset functions return zero values.
// Call counts are tracked per method under a mutex so tests can assert
// attempt budgets from concurrent runs.
type Client struct {
	SearchWarehousesFunc      func(ctx context.Context, creds models.Credentials, query, warehouseType string) ([]models.DropOffPoint, error)
	ListClustersFunc          func(ctx context.Context, creds models.Credentials, clusterType string) (*marketplace.ClusterList, error)
	CreateDraftFunc           func(ctx context.Context, creds models.Credentials, clusterIDs []int64, dropOffID int64, items []marketplace.DraftItem, supplyType string) (string, error)
	GetDraftInfoFunc          func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.DraftInfo, error)
	GetDraftTimeslotsFunc     func(ctx context.Context, creds models.Credentials, draftID int64, warehouseIDs []int64, dateFrom, dateTo string) (*marketplace.TimeslotList, error)
	CreateOrderFunc           func(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error)
	GetCreateStatusFunc       func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CreateStatus, error)
	CancelOrderFunc           func(ctx context.Context, creds models.Credentials, orderID int64) (string, error)
	GetCancelStatusFunc       func(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CancelStatus, error)
	GetOrdersFunc             func(ctx context.Context, creds models.Credentials, orderIDs []int64) ([]marketplace.Order, error)
	ResolveSKUsByOfferIDsFunc func(ctx context.Context, creds models.Credentials, articles []string) (map[string]int64, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ marketplace.Client = (*Client)(nil)

// Calls returns how many times the named method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Client) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[method]++
}

func (c *Client) SearchWarehouses(ctx context.Context, creds models.Credentials, query, warehouseType string) ([]models.DropOffPoint, error) {
	c.record("SearchWarehouses")
	if c.SearchWarehousesFunc == nil {
		return nil, nil
	}
	return c.SearchWarehousesFunc(ctx, creds, query, warehouseType)
}

func (c *Client) ListClusters(ctx context.Context, creds models.Credentials, clusterType string) (*marketplace.ClusterList, error) {
	c.record("ListClusters")
	if c.ListClustersFunc == nil {
		return &marketplace.ClusterList{}, nil
	}
	return c.ListClustersFunc(ctx, creds, clusterType)
}

func (c *Client) CreateDraft(ctx context.Context, creds models.Credentials, clusterIDs []int64, dropOffID int64, items []marketplace.DraftItem, supplyType string) (string, error) {
	c.record("CreateDraft")
	if c.CreateDraftFunc == nil {
		return "", nil
	}
	return c.CreateDraftFunc(ctx, creds, clusterIDs, dropOffID, items, supplyType)
}

func (c *Client) GetDraftInfo(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.DraftInfo, error) {
	c.record("GetDraftInfo")
	if c.GetDraftInfoFunc == nil {
		return &marketplace.DraftInfo{}, nil
	}
	return c.GetDraftInfoFunc(ctx, creds, operationID)
}

func (c *Client) GetDraftTimeslots(ctx context.Context, creds models.Credentials, draftID int64, warehouseIDs []int64, dateFrom, dateTo string) (*marketplace.TimeslotList, error) {
	c.record("GetDraftTimeslots")
	if c.GetDraftTimeslotsFunc == nil {
		return &marketplace.TimeslotList{}, nil
	}
	return c.GetDraftTimeslotsFunc(ctx, creds, draftID, warehouseIDs, dateFrom, dateTo)
}

func (c *Client) CreateOrder(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error) {
	c.record("CreateOrder")
	if c.CreateOrderFunc == nil {
		return "", nil
	}
	return c.CreateOrderFunc(ctx, creds, draftID, warehouseID, timeslot)
}

func (c *Client) GetCreateStatus(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CreateStatus, error) {
	c.record("GetCreateStatus")
	if c.GetCreateStatusFunc == nil {
		return &marketplace.CreateStatus{}, nil
	}
	return c.GetCreateStatusFunc(ctx, creds, operationID)
}

func (c *Client) CancelOrder(ctx context.Context, creds models.Credentials, orderID int64) (string, error) {
	c.record("CancelOrder")
	if c.CancelOrderFunc == nil {
		return "", nil
	}
	return c.CancelOrderFunc(ctx, creds, orderID)
}

func (c *Client) GetCancelStatus(ctx context.Context, creds models.Credentials, operationID string) (*marketplace.CancelStatus, error) {
	c.record("GetCancelStatus")
	if c.GetCancelStatusFunc == nil {
		return &marketplace.CancelStatus{}, nil
	}
	return c.GetCancelStatusFunc(ctx, creds, operationID)
}

func (c *Client) GetOrders(ctx context.Context, creds models.Credentials, orderIDs []int64) ([]marketplace.Order, error) {
	c.record("GetOrders")
	if c.GetOrdersFunc == nil {
		return nil, nil
	}
	return c.GetOrdersFunc(ctx, creds, orderIDs)
}

func (c *Client) ResolveSKUsByOfferIDs(ctx context.Context, creds models.Credentials, articles []string) (map[string]int64, error) {
	c.record("ResolveSKUsByOfferIDs")
	if c.ResolveSKUsByOfferIDsFunc == nil {
		return map[string]int64{}, nil
	}
	return c.ResolveSKUsByOfferIDsFunc(ctx, creds, articles)
}
