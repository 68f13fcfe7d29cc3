package process

import (
	"context"
	"fmt"

	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
)

// FetchSupplyOrderDetails fetches an order and extracts drop-off,
// storage-warehouse and timeslot details for display. Fetch failures are
// logged and swallowed; callers fall back to locally known data.
func FetchSupplyOrderDetails(ctx context.Context, client marketplace.Client, creds models.Credentials, orderID int64) *models.OrderDetails {
	logger := logging.Component("order-details")

	orders, err := client.GetOrders(ctx, creds, []int64{orderID})
	if err != nil {
		logger.Warn().Err(err).Int64("order_id", orderID).Msg("failed to fetch order details")
		return nil
	}
	if len(orders) == 0 {
		logger.Warn().Int64("order_id", orderID).Msg("order details not found")
		return nil
	}

	order := orders[0]
	details := &models.OrderDetails{OrderID: order.OrderID}
	if details.OrderID == 0 {
		details.OrderID = orderID
	}

	if order.DropOff != nil {
		details.DropOffID = order.DropOff.WarehouseID
		details.DropOffName = order.DropOff.Name
		details.DropOffAddress = order.DropOff.Address
	}
	if len(order.Supplies) > 0 {
		first := order.Supplies[0]
		details.WarehouseID = first.WarehouseID
		details.WarehouseName = first.WarehouseName
		details.WarehouseAddress = first.WarehouseAddress
	}
	if order.Timeslot != nil {
		details.TimeslotFrom = order.Timeslot.From
		details.TimeslotTo = order.Timeslot.To
		details.Timezone = order.Timeslot.Timezone
	}

	details.Label = formatOrderLabel(details)
	return details
}

func formatOrderLabel(d *models.OrderDetails) string {
	label := fmt.Sprintf("order %d", d.OrderID)
	if d.WarehouseName != "" {
		label += ", " + d.WarehouseName
	}
	if d.TimeslotFrom != "" && d.TimeslotTo != "" {
		label += fmt.Sprintf(" (%s - %s)", d.TimeslotFrom, d.TimeslotTo)
	}
	return label
}
