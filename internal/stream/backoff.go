package stream

import (
	"context"
	"time"
)

// backoffSleep waits d or until ctx ends; it reports whether the wait
// completed.
func backoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
