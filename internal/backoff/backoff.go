// Package backoff holds the retry pacing shared by the pipeline loop and the
// weather client: exponential doubling from Initial, capped at Max.
package backoff

import (
	"context"
	"time"
)

const (
	Initial = 200 * time.Millisecond
	Max     = 5 * time.Second
)

// Next doubles current, capped at limit.
func Next(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

// Sleep waits for d or until ctx is done. It returns false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
