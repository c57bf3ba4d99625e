package policy

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// Override models a route-level policy facet that can be an object,
// explicitly false (disable the facet) or absent (inherit defaults).
type Override[T any] struct {
	// Disabled is true when the route config sets the facet to false.
	Disabled bool
	// Policy is non-nil when the route config provides an override object.
	Policy *T
}

// IsZero reports whether the override is absent.
func (o Override[T]) IsZero() bool {
	return !o.Disabled && o.Policy == nil
}

// UnmarshalYAML accepts either a boolean or a policy object.
func (o *Override[T]) UnmarshalYAML(data []byte) error {
	var flag bool
	if err := yaml.Unmarshal(data, &flag); err == nil {
		o.Disabled = !flag
		o.Policy = nil
		return nil
	}

	var p T
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("policy override: %w", err)
	}
	o.Disabled = false
	o.Policy = &p
	return nil
}

// UnmarshalJSON mirrors UnmarshalYAML for admin API route payloads.
// goccy/go-yaml handles JSON input as a YAML subset.
func (o *Override[T]) UnmarshalJSON(data []byte) error {
	return o.UnmarshalYAML(data)
}

// Overrides carries the per-route facet overrides.
type Overrides struct {
	RateLimit Override[RateLimitOverride] `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Auth      Override[AuthOverride]      `yaml:"auth,omitempty" json:"auth,omitempty"`
	Logging   Override[LoggingOverride]   `yaml:"logging,omitempty" json:"logging,omitempty"`
	Cache     Override[CacheOverride]     `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// RateLimitOverride holds optional fields shallow-merged over the
// service default.
type RateLimitOverride struct {
	Preset      *string `yaml:"preset" json:"preset"`
	WindowMs    *int64  `yaml:"windowMs" json:"windowMs"`
	MaxRequests *int    `yaml:"maxRequests" json:"maxRequests"`
	KeyType     *string `yaml:"keyType" json:"keyType"`
	Segment     *string `yaml:"segment" json:"segment"`
}

// AuthOverride holds optional fields shallow-merged over the service
// default.
type AuthOverride struct {
	Required     *bool    `yaml:"required" json:"required"`
	InjectUserID *bool    `yaml:"injectUserId" json:"injectUserId"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
	AllowGuest   *bool    `yaml:"allowGuest" json:"allowGuest"`
}

// LoggingOverride holds optional fields shallow-merged over the
// service default.
type LoggingOverride struct {
	Level               *string  `yaml:"level" json:"level"`
	IncludeRequestBody  *bool    `yaml:"includeRequestBody" json:"includeRequestBody"`
	IncludeResponseBody *bool    `yaml:"includeResponseBody" json:"includeResponseBody"`
	Tags                []string `yaml:"tags" json:"tags"`
	CorrelationHeader   *string  `yaml:"correlationHeader" json:"correlationHeader"`
}

// CacheOverride holds optional fields shallow-merged over the service
// default.
type CacheOverride struct {
	Enabled                *bool    `yaml:"enabled" json:"enabled"`
	TTLMs                  *int64   `yaml:"ttlMs" json:"ttlMs"`
	StaleWhileRevalidateMs *int64   `yaml:"staleWhileRevalidateMs" json:"staleWhileRevalidateMs"`
	VaryBy                 []string `yaml:"varyBy" json:"varyBy"`
}
