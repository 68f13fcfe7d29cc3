package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	busyRetryAttempts = 3
	busyRetryBackoff  = 50 * time.Millisecond
)

// TransactionWithRetry runs fn inside a transaction, retrying the whole
// transaction with doubling backoff when sqlite reports the database
// busy or locked. Zero attempts or backoff select the defaults.
func (db *DB) TransactionWithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(*sql.Tx) error) error {
	if attempts <= 0 {
		attempts = busyRetryAttempts
	}
	if backoff <= 0 {
		backoff = busyRetryBackoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = db.Transaction(ctx, fn)
		if err == nil || !isBusyError(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if sleepErr := sleepWithContext(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
		backoff *= 2
	}
	return err
}

// isBusyError reports sqlite contention errors worth retrying. Context
// cancellation is never retried even when sqlite wraps it.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database is busy") ||
		strings.Contains(message, "sqlite_busy")
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
