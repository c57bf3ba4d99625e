package ratelimit

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/middleware"
	"github.com/soundrift/gateway/internal/policy"
)

// sweepEvery bounds how many increments pass between sweeps of stale
// in-process window counters. The Redis store expires its keys
// server-side and needs no sweeping.
const sweepEvery = 1024

// Limiter enforces fixed-window rate limits per route. When the shared
// store fails the limiter fails open onto an in-process fallback so a
// Redis outage degrades accuracy, not availability.
type Limiter struct {
	store    Store
	fallback *MemoryStore
	ops      atomic.Int64
}

// NewLimiter creates a limiter over the given store. A nil store means
// in-process counting only.
func NewLimiter(store Store) *Limiter {
	mem := NewMemoryStore()
	if store == nil {
		store = mem
	}
	return &Limiter{store: store, fallback: mem}
}

// Middleware builds the rate-limit middleware for one route.
func (l *Limiter) Middleware(routeID string, p policy.RateLimitPolicy) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.key(routeID, p, r)
			window := p.Window()

			if l.ops.Add(1)%sweepEvery == 0 {
				l.fallback.Sweep(window)
			}

			count, resetAt, err := l.store.Incr(r.Context(), key, window)
			if err != nil {
				logging.Warn("rate limit store unavailable, using in-process counter",
					zap.String("route", routeID), zap.Error(err))
				count, resetAt, _ = l.fallback.Incr(r.Context(), key, window)
			}

			remaining := int64(p.MaxRequests) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(p.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > int64(p.MaxRequests) {
				retryAfter := int(time.Until(resetAt).Seconds() + 1)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				gwerrors.ErrTooManyRequests.
					WithRequestID(middleware.GetRequestID(r.Context())).
					WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// key derives the counter key: route id, optional segment, and the
// principal selected by the policy's key type. Anonymous callers on a
// per-user policy fall back to the client address.
func (l *Limiter) key(routeID string, p policy.RateLimitPolicy, r *http.Request) string {
	key := routeID
	if p.Segment != "" {
		key += ":" + p.Segment
	}

	switch p.KeyType {
	case policy.KeyGlobal:
		return key + ":global"
	case policy.KeyPerIP:
		return key + ":ip:" + middleware.ClientIP(r)
	default:
		if ac := middleware.GetAuthContext(r.Context()); ac != nil && ac.UserID != "" {
			return key + ":user:" + ac.UserID
		}
		return key + ":ip:" + middleware.ClientIP(r)
	}
}
