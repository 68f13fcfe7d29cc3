package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/supplywise/supplybot/internal/models"
)

// Client is the RPC surface the wizard and orchestrator consume.
type Client interface {
	SearchWarehouses(ctx context.Context, creds models.Credentials, query, warehouseType string) ([]models.DropOffPoint, error)
	ListClusters(ctx context.Context, creds models.Credentials, clusterType string) (*ClusterList, error)
	CreateDraft(ctx context.Context, creds models.Credentials, clusterIDs []int64, dropOffID int64, items []DraftItem, supplyType string) (string, error)
	GetDraftInfo(ctx context.Context, creds models.Credentials, operationID string) (*DraftInfo, error)
	GetDraftTimeslots(ctx context.Context, creds models.Credentials, draftID int64, warehouseIDs []int64, dateFrom, dateTo string) (*TimeslotList, error)
	CreateOrder(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error)
	GetCreateStatus(ctx context.Context, creds models.Credentials, operationID string) (*CreateStatus, error)
	CancelOrder(ctx context.Context, creds models.Credentials, orderID int64) (string, error)
	GetCancelStatus(ctx context.Context, creds models.Credentials, operationID string) (*CancelStatus, error)
	GetOrders(ctx context.Context, creds models.Credentials, orderIDs []int64) ([]Order, error)
	ResolveSKUsByOfferIDs(ctx context.Context, creds models.Credentials, articles []string) (map[string]int64, error)
}

// HTTPClient talks JSON over HTTPS to the seller API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a marketplace client against the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

var _ Client = (*HTTPClient)(nil)

// SearchWarehouses searches drop-off capable warehouses by free-text query.
func (c *HTTPClient) SearchWarehouses(ctx context.Context, creds models.Credentials, query, warehouseType string) ([]models.DropOffPoint, error) {
	var resp struct {
		Search []struct {
			WarehouseID int64  `json:"warehouse_id"`
			Name        string `json:"name"`
			Address     string `json:"address"`
		} `json:"search"`
	}
	req := map[string]any{"search": query, "filter_by_supply_type": []string{warehouseType}}
	if err := c.post(ctx, creds, "/v1/warehouse/fbo/list", req, &resp); err != nil {
		return nil, err
	}

	points := make([]models.DropOffPoint, 0, len(resp.Search))
	for _, w := range resp.Search {
		points = append(points, models.DropOffPoint{
			WarehouseID: w.WarehouseID,
			Name:        w.Name,
			Address:     w.Address,
		})
	}
	return points, nil
}

// ListClusters lists clusters and their warehouses.
func (c *HTTPClient) ListClusters(ctx context.Context, creds models.Credentials, clusterType string) (*ClusterList, error) {
	var resp struct {
		Clusters []struct {
			ID               int64  `json:"id"`
			Name             string `json:"name"`
			LogisticClusters []struct {
				Warehouses []struct {
					WarehouseID int64  `json:"warehouse_id"`
					Name        string `json:"name"`
					Address     string `json:"address"`
				} `json:"warehouses"`
			} `json:"logistic_clusters"`
		} `json:"clusters"`
	}
	req := map[string]any{"cluster_type": clusterType}
	if err := c.post(ctx, creds, "/v1/cluster/list", req, &resp); err != nil {
		return nil, err
	}

	list := &ClusterList{WarehousesByCluster: make(map[int64][]models.Warehouse)}
	for _, cl := range resp.Clusters {
		list.Clusters = append(list.Clusters, models.Cluster{ID: cl.ID, Name: cl.Name})
		for _, lc := range cl.LogisticClusters {
			for _, w := range lc.Warehouses {
				list.WarehousesByCluster[cl.ID] = append(list.WarehousesByCluster[cl.ID], models.Warehouse{
					ID:        w.WarehouseID,
					Name:      w.Name,
					Address:   w.Address,
					ClusterID: cl.ID,
				})
			}
		}
	}
	return list, nil
}

// CreateDraft starts draft creation and returns the operation id.
func (c *HTTPClient) CreateDraft(ctx context.Context, creds models.Credentials, clusterIDs []int64, dropOffID int64, items []DraftItem, supplyType string) (string, error) {
	var resp struct {
		OperationID string `json:"operation_id"`
	}
	req := map[string]any{
		"cluster_ids":               clusterIDs,
		"drop_off_point_warehouse_id": dropOffID,
		"items":                     items,
		"type":                      supplyType,
	}
	if err := c.post(ctx, creds, "/v1/draft/create", req, &resp); err != nil {
		return "", err
	}
	return resp.OperationID, nil
}

// GetDraftInfo polls the state of a draft-create operation.
func (c *HTTPClient) GetDraftInfo(ctx context.Context, creds models.Credentials, operationID string) (*DraftInfo, error) {
	var resp DraftInfo
	req := map[string]any{"operation_id": operationID}
	if err := c.post(ctx, creds, "/v1/draft/create/info", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDraftTimeslots lists delivery windows for a draft and warehouse set.
func (c *HTTPClient) GetDraftTimeslots(ctx context.Context, creds models.Credentials, draftID int64, warehouseIDs []int64, dateFrom, dateTo string) (*TimeslotList, error) {
	var resp struct {
		DropOffWarehouseTimeslots []struct {
			Days []struct {
				Timeslots []struct {
					FromInTimezone time.Time `json:"from_in_timezone"`
					ToInTimezone   time.Time `json:"to_in_timezone"`
				} `json:"timeslots"`
			} `json:"days"`
		} `json:"drop_off_warehouse_timeslots"`
	}
	req := map[string]any{
		"draft_id":               draftID,
		"warehouse_ids":          warehouseIDs,
		"date_from":              dateFrom,
		"date_to":                dateTo,
	}
	if err := c.post(ctx, creds, "/v1/draft/timeslot/info", req, &resp); err != nil {
		return nil, err
	}

	list := &TimeslotList{}
	for _, wt := range resp.DropOffWarehouseTimeslots {
		for _, day := range wt.Days {
			for _, slot := range day.Timeslots {
				list.Timeslots = append(list.Timeslots, models.Timeslot{
					From: slot.FromInTimezone,
					To:   slot.ToInTimezone,
				})
			}
		}
	}
	return list, nil
}

// CreateOrder starts supply order creation from a draft and returns the
// operation id.
func (c *HTTPClient) CreateOrder(ctx context.Context, creds models.Credentials, draftID int64, warehouseID int64, timeslot models.Timeslot) (string, error) {
	var resp struct {
		OperationID string `json:"operation_id"`
	}
	req := map[string]any{
		"draft_id":     draftID,
		"warehouse_id": warehouseID,
		"timeslot": map[string]any{
			"from_in_timezone": timeslot.From,
			"to_in_timezone":   timeslot.To,
		},
	}
	if err := c.post(ctx, creds, "/v1/draft/supply/create", req, &resp); err != nil {
		return "", err
	}
	return resp.OperationID, nil
}

// GetCreateStatus polls the state of an order-create operation.
func (c *HTTPClient) GetCreateStatus(ctx context.Context, creds models.Credentials, operationID string) (*CreateStatus, error) {
	var resp CreateStatus
	req := map[string]any{"operation_id": operationID}
	if err := c.post(ctx, creds, "/v1/draft/supply/create/status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder starts supply order cancellation and returns the operation id.
func (c *HTTPClient) CancelOrder(ctx context.Context, creds models.Credentials, orderID int64) (string, error) {
	var resp struct {
		OperationID string `json:"operation_id"`
	}
	req := map[string]any{"order_id": orderID}
	if err := c.post(ctx, creds, "/v1/supply-order/cancel", req, &resp); err != nil {
		return "", err
	}
	return resp.OperationID, nil
}

// GetCancelStatus polls the state of an order-cancel operation.
func (c *HTTPClient) GetCancelStatus(ctx context.Context, creds models.Credentials, operationID string) (*CancelStatus, error) {
	var resp CancelStatus
	req := map[string]any{"operation_id": operationID}
	if err := c.post(ctx, creds, "/v1/supply-order/cancel/status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrders fetches order details by id.
func (c *HTTPClient) GetOrders(ctx context.Context, creds models.Credentials, orderIDs []int64) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}
	req := map[string]any{"order_ids": orderIDs}
	if err := c.post(ctx, creds, "/v2/supply-order/get", req, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// ResolveSKUsByOfferIDs maps seller articles to marketplace SKUs.
func (c *HTTPClient) ResolveSKUsByOfferIDs(ctx context.Context, creds models.Credentials, articles []string) (map[string]int64, error) {
	var resp struct {
		Items []struct {
			OfferID string `json:"offer_id"`
			SKU     int64  `json:"sku"`
		} `json:"items"`
	}
	req := map[string]any{"offer_id": articles, "limit": len(articles)}
	if err := c.post(ctx, creds, "/v3/product/info/list", req, &resp); err != nil {
		return nil, err
	}

	skus := make(map[string]int64, len(resp.Items))
	for _, item := range resp.Items {
		if item.SKU > 0 {
			skus[item.OfferID] = item.SKU
		}
	}
	return skus, nil
}

func (c *HTTPClient) post(ctx context.Context, creds models.Credentials, path string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", creds.ClientID)
	req.Header.Set("Api-Key", creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &parsed); err == nil {
			apiErr.Message = parsed.Message
			apiErr.Code = fmt.Sprint(parsed.Code)
		}
		return apiErr
	}

	if dst == nil {
		return nil
	}

	// Some endpoints wrap the payload in a result envelope.
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Result) > 0 && !isStatusCall(path) {
		data = envelope.Result
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// isStatusCall reports endpoints whose result envelope must be kept
// intact because callers inspect both the top level and the result.
func isStatusCall(path string) bool {
	switch path {
	case "/v1/draft/supply/create/status", "/v1/supply-order/cancel/status":
		return true
	}
	return false
}
