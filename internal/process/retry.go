// Package process implements the bounded-retry polling primitives the
// wizard and recovery service drive supply operations with.
package process

import (
	"context"
	"time"
)

// RetryPolicy bounds one polling operation: fixed-interval delays, no
// jitter or exponential growth.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// sleep waits for the policy delay or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
