package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/soundrift/gateway/internal/config"
)

// Manager lazily creates one breaker per target service, configured
// through the merged per-service breaker settings.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      *config.Config
}

// NewManager creates an empty manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// For returns the breaker for a service, creating it on first use.
func (m *Manager) For(service string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[service]; ok {
		return b
	}
	b := New(service, m.cfg.BreakerFor(service))
	m.breakers[service] = b
	return b
}

// Snapshots returns the state of every known breaker sorted by service.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Reset closes the breaker for a service if one exists.
func (m *Manager) Reset(service string) bool {
	m.mu.Lock()
	b, ok := m.breakers[service]
	m.mu.Unlock()
	if ok {
		b.Reset()
	}
	return ok
}
