package ratelimit

import (
	"context"
	"time"
)

// Store counts requests in fixed windows. Incr bumps the counter for
// key in the window containing now and returns the new count plus the
// instant the window resets.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// windowStart truncates now to the containing fixed window so every
// gateway replica agrees on window boundaries.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
