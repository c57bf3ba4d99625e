package router

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundrift/gateway/internal/config"
)

// Route is an immutable routing decision target.
type Route struct {
	Path         string
	Service      string
	RewritePath  string
	StripPrefix  bool
	Timeout      time.Duration
	Retries      int
	AuthRequired bool
	Headers      map[string]string
	Config       config.RouteConfig

	pattern   *pattern
	configIdx int // insertion order for tie-breaking
}

// index is an immutable route table snapshot. Writers build a new
// index and swap it atomically; readers use the snapshot they loaded
// for the whole request.
type index struct {
	exact   map[string]*Route
	ordered []*Route
}

// Table is the dynamic route table.
type Table struct {
	mu      sync.Mutex // serializes writers
	idx     atomic.Pointer[index]
	nextIdx int
}

// New creates an empty route table.
func New() *Table {
	t := &Table{}
	t.idx.Store(&index{exact: map[string]*Route{}})
	return t
}

// AddRoute inserts or replaces the route for cfg.Path. The ordered
// list is re-sorted by descending specificity; equal specificity keeps
// registration order (stable sort).
func (t *Table) AddRoute(cfg config.RouteConfig) *Route {
	t.mu.Lock()
	defer t.mu.Unlock()

	route := &Route{
		Path:         cfg.Path,
		Service:      cfg.Service,
		RewritePath:  cfg.RewritePath,
		StripPrefix:  cfg.StripPrefix,
		Timeout:      cfg.Timeout,
		Retries:      cfg.Retries,
		AuthRequired: cfg.AuthRequired,
		Headers:      cfg.Headers,
		Config:       cfg,
		pattern:      compilePattern(cfg.Path),
		configIdx:    t.nextIdx,
	}
	t.nextIdx++

	old := t.idx.Load()
	next := &index{
		exact:   make(map[string]*Route, len(old.exact)+1),
		ordered: make([]*Route, 0, len(old.ordered)+1),
	}
	for p, r := range old.exact {
		next.exact[p] = r
	}
	for _, r := range old.ordered {
		if r.Path != cfg.Path {
			next.ordered = append(next.ordered, r)
		}
	}

	next.exact[cfg.Path] = route
	next.ordered = append(next.ordered, route)

	sort.SliceStable(next.ordered, func(i, j int) bool {
		si := next.ordered[i].pattern.specificity
		sj := next.ordered[j].pattern.specificity
		if si != sj {
			return si > sj
		}
		return next.ordered[i].configIdx < next.ordered[j].configIdx
	})

	t.idx.Store(next)
	return route
}

// RemoveRoute purges the route registered for path from both the
// exact map and the ordered list. Returns true if found.
func (t *Table) RemoveRoute(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.idx.Load()
	if _, ok := old.exact[path]; !ok {
		return false
	}

	next := &index{
		exact:   make(map[string]*Route, len(old.exact)-1),
		ordered: make([]*Route, 0, len(old.ordered)-1),
	}
	for p, r := range old.exact {
		if p != path {
			next.exact[p] = r
		}
	}
	for _, r := range old.ordered {
		if r.Path != path {
			next.ordered = append(next.ordered, r)
		}
	}

	t.idx.Store(next)
	return true
}

// Lookup resolves a request path to a route. Exact matches always win
// over pattern matches; among patterns the ordered scan returns the
// first (most specific) match.
func (t *Table) Lookup(path string) *Route {
	if path == "" || path == "/" {
		return nil
	}

	idx := t.idx.Load()
	if route, ok := idx.exact[path]; ok {
		return route
	}
	for _, r := range idx.ordered {
		if r.pattern.wildcard && r.pattern.matches(path) {
			return r
		}
	}
	return nil
}

// Routes returns all registered routes in specificity order.
func (t *Table) Routes() []*Route {
	idx := t.idx.Load()
	out := make([]*Route, 0, len(idx.ordered))
	out = append(out, idx.ordered...)
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	return len(t.idx.Load().ordered)
}
