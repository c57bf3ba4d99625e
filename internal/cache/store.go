package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is a cached upstream response.
type Entry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	StoredAt   time.Time
}

// Age returns how old the entry is.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Store persists cached responses. Get returns nil on miss; store
// failures surface as errors so the handler can degrade to a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, lifetime time.Duration) error
	Delete(ctx context.Context, key string) error
}
