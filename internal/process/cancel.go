package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
)

// WaitForCancelStatus polls the cancel-status call until cancellation is
// confirmed or the attempt budget is exhausted. The last seen status is
// returned either way; the caller decides success via IsCancelSuccessful.
func WaitForCancelStatus(ctx context.Context, client marketplace.Client, creds models.Credentials, operationID string, policy RetryPolicy) *marketplace.CancelStatus {
	logger := logging.Component("cancel-status")
	var last *marketplace.CancelStatus

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if ctx.Err() != nil {
			return last
		}

		status, err := client.GetCancelStatus(ctx, creds, operationID)
		if err != nil {
			logger.Debug().
				Err(err).
				Str("operation_id", operationID).
				Int("attempt", attempt).
				Msg("cancel status call failed")
		} else {
			last = status
			if IsCancelSuccessful(status) {
				return last
			}
		}

		if attempt < policy.Attempts {
			if err := sleep(ctx, policy.Delay); err != nil {
				return last
			}
		}
	}
	return last
}

// IsCancelSuccessful reports whether a cancel-status response confirms
// cancellation: the status field is SUCCESS, the order itself is marked
// cancelled, or any individual supply is marked cancelled.
func IsCancelSuccessful(status *marketplace.CancelStatus) bool {
	if status == nil {
		return false
	}
	if status.Status == marketplace.StatusSuccess {
		return true
	}
	if status.Result == nil {
		return false
	}
	if status.Result.IsOrderCancelled {
		return true
	}
	for _, supply := range status.Result.Supplies {
		if supply.IsSupplyCancelled {
			return true
		}
	}
	return false
}

// DescribeCancelStatus formats a cancel-status response for user display.
func DescribeCancelStatus(status *marketplace.CancelStatus) string {
	if status == nil {
		return "no status received"
	}

	parts := []string{fmt.Sprintf("status: %s", status.Status)}
	if status.Result != nil {
		parts = append(parts, fmt.Sprintf("order cancelled: %t", status.Result.IsOrderCancelled))
		for _, supply := range status.Result.Supplies {
			parts = append(parts, fmt.Sprintf("supply %d cancelled: %t", supply.SupplyID, supply.IsSupplyCancelled))
		}
	}
	return strings.Join(parts, ", ")
}
