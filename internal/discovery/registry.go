package discovery

import (
	"sync"
	"time"
)

// Registry holds the live view of backend instances per service name.
// Instance ids are unique within a service; Discover returns healthy
// instances only.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string][]*Instance),
	}
}

// Register adds an instance, replacing any existing instance with the
// same id within the service.
func (r *Registry) Register(inst *Instance) {
	if inst.RegisteredAt.IsZero() {
		inst.RegisteredAt = time.Now()
	}
	if inst.Weight == 0 {
		inst.Weight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[inst.Service]
	for i, existing := range list {
		if existing.ID == inst.ID {
			list[i] = inst
			return
		}
	}
	r.services[inst.Service] = append(list, inst)
}

// Deregister removes an instance by id. Returns true if found. The
// service key is dropped when its list becomes empty.
func (r *Registry) Deregister(service, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[service]
	for i, inst := range list {
		if inst.ID == id {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.services, service)
			} else {
				r.services[service] = list
			}
			return true
		}
	}
	return false
}

// Discover returns copies of the healthy instances of a service.
func (r *Registry) Discover(service string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, inst := range r.services[service] {
		if inst.Healthy {
			out = append(out, inst.clone())
		}
	}
	return out
}

// All returns a snapshot of the full registry.
func (r *Registry) All() map[string][]*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]*Instance, len(r.services))
	for name, list := range r.services {
		copies := make([]*Instance, len(list))
		for i, inst := range list {
			copies[i] = inst.clone()
		}
		out[name] = copies
	}
	return out
}

// Stats summarizes a service's instances.
type Stats struct {
	Service   string `json:"service"`
	Total     int    `json:"total"`
	Healthy   int    `json:"healthy"`
	Unhealthy int    `json:"unhealthy"`
}

// Stats returns instance counts for a service.
func (r *Registry) Stats(service string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Service: service}
	for _, inst := range r.services[service] {
		s.Total++
		if inst.Healthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
	}
	return s
}

// SetHealth updates an instance's health flag and check timestamp.
// Health failures never remove an instance; eviction is TTL-driven.
func (r *Registry) SetHealth(service, id string, healthy bool, checkedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range r.services[service] {
		if inst.ID == id {
			inst.Healthy = healthy
			inst.LastHealthCheck = checkedAt
			return
		}
	}
}

// PurgeDiscovered removes every instance whose Discovered flag equals
// discovered, returning the number removed. Used by mode transitions
// so static and dynamic instances never coexist.
func (r *Registry) PurgeDiscovered(discovered bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, list := range r.services {
		kept := list[:0]
		for _, inst := range list {
			if inst.Discovered == discovered {
				removed++
				continue
			}
			kept = append(kept, inst)
		}
		if len(kept) == 0 {
			delete(r.services, name)
		} else {
			r.services[name] = kept
		}
	}
	return removed
}

// EvictExpired removes instances whose age exceeds ttl, returning the
// evicted instances. An instance exactly at the boundary is kept.
func (r *Registry) EvictExpired(ttl time.Duration, now time.Time) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Instance
	for name, list := range r.services {
		kept := list[:0]
		for _, inst := range list {
			if now.Sub(inst.RegisteredAt) > ttl {
				evicted = append(evicted, inst)
				continue
			}
			kept = append(kept, inst)
		}
		if len(kept) == 0 {
			delete(r.services, name)
		} else {
			r.services[name] = kept
		}
	}
	return evicted
}

// Instances returns copies of every instance across all services.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, list := range r.services {
		for _, inst := range list {
			out = append(out, inst.clone())
		}
	}
	return out
}

// ServiceNames returns the registered service names.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
