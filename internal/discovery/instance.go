package discovery

import (
	"fmt"
	"time"
)

// Instance is a concrete backend process addressable by host:port.
type Instance struct {
	ID             string            `json:"id"`
	Service        string            `json:"service"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Protocol       string            `json:"protocol"`
	HealthEndpoint string            `json:"healthEndpoint"`
	Version        string            `json:"version,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Weight         int               `json:"weight"`

	RegisteredAt    time.Time `json:"registeredAt"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`
	Healthy         bool      `json:"healthy"`
	// Discovered marks instances materialized from the control plane;
	// false means static configuration fallback.
	Discovered bool `json:"discovered"`
}

// URL returns the base URL for the instance.
func (i *Instance) URL() string {
	proto := i.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, i.Host, i.Port)
}

// HealthURL returns the full health check URL for the instance.
func (i *Instance) HealthURL() string {
	path := i.HealthEndpoint
	if path == "" {
		path = "/health"
	}
	return i.URL() + path
}

// clone returns a shallow copy so registry snapshots cannot be
// mutated by callers.
func (i *Instance) clone() *Instance {
	c := *i
	return &c
}
