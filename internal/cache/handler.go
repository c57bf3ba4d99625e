package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/middleware"
	"github.com/soundrift/gateway/internal/policy"
)

// Handler serves cached GET responses for routes with caching enabled.
// Fresh entries are served directly; entries inside the
// stale-while-revalidate window are served stale while one background
// refresh per key re-populates the store.
type Handler struct {
	store Store

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewHandler creates a cache handler over the store.
func NewHandler(store Store) *Handler {
	return &Handler{
		store:    store,
		inFlight: make(map[string]struct{}),
	}
}

// Middleware builds the caching middleware for one route. Only GET
// requests participate; everything else passes through untouched.
func (h *Handler) Middleware(routeID string, p policy.CachePolicy) middleware.Middleware {
	lifetime := p.TTL() + p.StaleWindow()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := cacheKey(routeID, r, p.VaryBy)

			entry, err := h.store.Get(r.Context(), key)
			if err != nil {
				logging.Warn("cache store unavailable, treating as miss",
					zap.String("route", routeID), zap.Error(err))
				entry = nil
			}

			now := time.Now()
			if entry != nil {
				age := entry.Age(now)
				if age <= p.TTL() {
					writeEntry(w, entry, "HIT")
					return
				}
				if age <= lifetime {
					writeEntry(w, entry, "STALE")
					h.refresh(key, r, next, lifetime)
					return
				}
			}

			rec := newRecorder()
			next.ServeHTTP(rec, r)
			rec.flushTo(w, "MISS")

			if rec.status >= 200 && rec.status < 300 {
				h.storeEntry(r.Context(), key, rec, lifetime)
			}
		})
	}
}

// refresh re-executes the request in the background, deduplicating so
// a burst of stale hits triggers one upstream call.
func (h *Handler) refresh(key string, r *http.Request, next http.Handler, lifetime time.Duration) {
	h.mu.Lock()
	if _, busy := h.inFlight[key]; busy {
		h.mu.Unlock()
		return
	}
	h.inFlight[key] = struct{}{}
	h.mu.Unlock()

	req := r.Clone(context.Background())
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.inFlight, key)
			h.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rec := newRecorder()
		next.ServeHTTP(rec, req.WithContext(ctx))
		if rec.status >= 200 && rec.status < 300 {
			h.storeEntry(ctx, key, rec, lifetime)
		}
	}()
}

func (h *Handler) storeEntry(ctx context.Context, key string, rec *recorder, lifetime time.Duration) {
	entry := &Entry{
		StatusCode: rec.status,
		Headers:    rec.header.Clone(),
		Body:       rec.body.Bytes(),
		StoredAt:   time.Now(),
	}
	if err := h.store.Set(ctx, key, entry, lifetime); err != nil {
		logging.Warn("cache store write failed", zap.Error(err))
	}
}

// cacheKey hashes the request identity: method, path with query, and
// the values of the vary-by headers.
func cacheKey(routeID string, r *http.Request, varyBy []string) string {
	var sb strings.Builder
	sb.WriteString(routeID)
	sb.WriteByte('|')
	sb.WriteString(r.Method)
	sb.WriteByte('|')
	sb.WriteString(r.URL.Path)
	if r.URL.RawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(r.URL.RawQuery)
	}
	for _, header := range varyBy {
		sb.WriteByte('|')
		sb.WriteString(strings.ToLower(header))
		sb.WriteByte('=')
		sb.WriteString(r.Header.Get(header))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeEntry(w http.ResponseWriter, entry *Entry, verdict string) {
	for name, values := range entry.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("X-Cache", verdict)
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

// recorder buffers a downstream response so it can be both replayed to
// the client and stored.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

// flushTo replays the captured response onto the real writer.
func (r *recorder) flushTo(w http.ResponseWriter, verdict string) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	for name, values := range r.header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("X-Cache", verdict)
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes())
}
