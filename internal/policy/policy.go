package policy

import (
	"time"
)

// Key types for rate-limit counters.
const (
	KeyPerUser = "per-user"
	KeyPerIP   = "per-ip"
	KeyGlobal  = "global"
)

// RateLimitPolicy controls the fixed-window limiter for a route.
type RateLimitPolicy struct {
	Preset      string `yaml:"preset" json:"preset"`
	WindowMs    int64  `yaml:"windowMs" json:"windowMs"`
	MaxRequests int    `yaml:"maxRequests" json:"maxRequests"`
	KeyType     string `yaml:"keyType" json:"keyType"`
	Segment     string `yaml:"segment,omitempty" json:"segment,omitempty"`
}

// Window returns the rate-limit window as a duration.
func (p RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

// AuthPolicy controls identity projection for a route.
type AuthPolicy struct {
	Required     bool     `yaml:"required" json:"required"`
	InjectUserID bool     `yaml:"injectUserId" json:"injectUserId"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	AllowGuest   bool     `yaml:"allowGuest" json:"allowGuest"`
}

// LoggingPolicy controls per-route request logging.
type LoggingPolicy struct {
	Level               string   `yaml:"level" json:"level"`
	IncludeRequestBody  bool     `yaml:"includeRequestBody" json:"includeRequestBody"`
	IncludeResponseBody bool     `yaml:"includeResponseBody" json:"includeResponseBody"`
	Tags                []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	CorrelationHeader   string   `yaml:"correlationHeader,omitempty" json:"correlationHeader,omitempty"`
}

// CachePolicy controls response caching for a route.
type CachePolicy struct {
	Enabled                bool     `yaml:"enabled" json:"enabled"`
	TTLMs                  int64    `yaml:"ttlMs" json:"ttlMs"`
	StaleWhileRevalidateMs int64    `yaml:"staleWhileRevalidateMs" json:"staleWhileRevalidateMs"`
	VaryBy                 []string `yaml:"varyBy,omitempty" json:"varyBy,omitempty"`
}

// TTL returns the cache freshness window.
func (p CachePolicy) TTL() time.Duration {
	return time.Duration(p.TTLMs) * time.Millisecond
}

// StaleWindow returns the stale-while-revalidate window.
func (p CachePolicy) StaleWindow() time.Duration {
	return time.Duration(p.StaleWhileRevalidateMs) * time.Millisecond
}

// Set bundles the service-level policy defaults for all four facets.
type Set struct {
	RateLimit *RateLimitPolicy `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Auth      *AuthPolicy      `yaml:"auth,omitempty" json:"auth,omitempty"`
	Logging   *LoggingPolicy   `yaml:"logging,omitempty" json:"logging,omitempty"`
	Cache     *CachePolicy     `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// Resolved is the materialization input for a route's middleware chain.
// A disabled facet keeps its zero policy and Enabled=false.
type Resolved struct {
	RateLimit        RateLimitPolicy
	RateLimitEnabled bool
	Auth             AuthPolicy
	AuthEnabled      bool
	Logging          LoggingPolicy
	LoggingEnabled   bool
	Cache            CachePolicy
	CacheEnabled     bool
}

// Presets are the named rate-limit presets.
var presets = map[string]RateLimitPolicy{
	"default": {Preset: "default", WindowMs: 60_000, MaxRequests: 120, KeyType: KeyPerUser},
	"strict":  {Preset: "strict", WindowMs: 60_000, MaxRequests: 20, KeyType: KeyPerUser},
	"lenient": {Preset: "lenient", WindowMs: 60_000, MaxRequests: 600, KeyType: KeyPerIP},
	"none":    {Preset: "none"},
}

// Preset returns the named rate-limit preset, falling back to "default".
func Preset(name string) RateLimitPolicy {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets["default"]
}

// DefaultSet is the registry fallback used when a service has no
// manifest entry.
func DefaultSet() Set {
	rl := Preset("default")
	return Set{
		RateLimit: &rl,
		Auth:      &AuthPolicy{Required: false, InjectUserID: true, AllowGuest: true},
		Logging:   &LoggingPolicy{Level: "info"},
		Cache:     &CachePolicy{Enabled: false},
	}
}
