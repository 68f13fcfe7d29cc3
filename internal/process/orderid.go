package process

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
)

// FailureReason classifies why order-id resolution gave up.
type FailureReason string

const (
	// FailureForbiddenRole means the api key lacks the required role.
	// Permission errors do not self-heal, so resolution stops on the
	// first occurrence instead of exhausting attempts.
	FailureForbiddenRole FailureReason = "forbidden_role"

	// FailureNotFound means every attempt was exhausted without an
	// order id (typically repeated "saga not found" responses).
	FailureNotFound FailureReason = "not_found"
)

// OrderIDResult is the outcome of ResolveOrderIDWithRetries.
type OrderIDResult struct {
	OrderIDs         []int64
	FailureReason    FailureReason
	LastStatusCode   int
	LastErrorMessage string
}

// OK reports whether at least one order id was resolved.
func (r OrderIDResult) OK() bool {
	return len(r.OrderIDs) > 0
}

// First returns the first resolved order id, or zero.
func (r OrderIDResult) First() int64 {
	if len(r.OrderIDs) == 0 {
		return 0
	}
	return r.OrderIDs[0]
}

// ResolveOrderIDWithRetries polls the create-status call until order ids
// appear or the attempt budget is exhausted. HTTP 403 with a missing-role
// message fast-fails without further attempts.
func ResolveOrderIDWithRetries(ctx context.Context, client marketplace.Client, creds models.Credentials, operationID string, policy RetryPolicy) OrderIDResult {
	logger := logging.Component("order-id-resolve")
	result := OrderIDResult{}

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if ctx.Err() != nil {
			result.FailureReason = FailureNotFound
			result.LastErrorMessage = ctx.Err().Error()
			return result
		}

		status, err := client.GetCreateStatus(ctx, creds, operationID)
		if err != nil {
			var apiErr *marketplace.APIError
			if errors.As(err, &apiErr) {
				result.LastStatusCode = apiErr.StatusCode
				result.LastErrorMessage = apiErr.Message
			} else {
				result.LastErrorMessage = err.Error()
			}

			if marketplace.IsForbiddenRole(err) {
				result.FailureReason = FailureForbiddenRole
				logger.Warn().
					Str("operation_id", operationID).
					Msg("order id resolution stopped: api key lacks required role")
				return result
			}

			logger.Debug().
				Err(err).
				Str("operation_id", operationID).
				Int("attempt", attempt).
				Msg("create status call failed")
		} else if ids := ExtractOrderIDs(status); len(ids) > 0 {
			result.OrderIDs = ids
			return result
		}

		if attempt < policy.Attempts {
			if err := sleep(ctx, policy.Delay); err != nil {
				break
			}
		}
	}

	result.FailureReason = FailureNotFound
	return result
}

// ExtractOrderIDs pulls order ids out of a create-status response. Ids
// may sit top-level or nested under result, as numbers or numeric
// strings; the output is normalized to deduplicated integers.
func ExtractOrderIDs(status *marketplace.CreateStatus) []int64 {
	if status == nil {
		return nil
	}

	var raw []json.RawMessage
	if status.Result != nil {
		raw = append(raw, splitIDArray(status.Result.OrderIDs)...)
	}
	raw = append(raw, splitIDArray(status.OrderIDs)...)

	seen := make(map[int64]struct{}, len(raw))
	ids := make([]int64, 0, len(raw))
	for _, entry := range raw {
		id, ok := parseID(entry)
		if !ok || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func splitIDArray(data json.RawMessage) []json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func parseID(data json.RawMessage) (int64, bool) {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
