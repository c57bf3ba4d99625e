package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/policy"
)

// Config is the root gateway configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Log            logging.Config       `yaml:"log"`
	CORS           CORSConfig           `yaml:"cors"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	Redis          RedisConfig          `yaml:"redis"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
	Identity       IdentityConfig       `yaml:"identity"`
	Services       []ServiceConfig      `yaml:"services"`
	Routes         []RouteConfig        `yaml:"routes"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Env is the deployment environment ("production" hides debug endpoints).
	Env string `yaml:"env"`
	// RequestBudget is the per-request gateway timeout.
	RequestBudget time.Duration `yaml:"requestBudget"`
}

// IsProduction reports whether debug surfaces must be disabled.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	Methods          []string `yaml:"methods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	MaxAge           int      `yaml:"maxAge"`
	// DevWildcards permits any localhost origin outside production.
	DevWildcards bool `yaml:"devWildcards"`
}

// DiscoveryConfig holds the service discovery settings.
type DiscoveryConfig struct {
	// ControlPlaneURL is the base URL of the system service answering
	// /api/discovery/services.
	ControlPlaneURL     string        `yaml:"controlPlaneURL"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval"`
	ProbeInterval       time.Duration `yaml:"probeInterval"`
	ServiceTTL          time.Duration `yaml:"serviceTTL"`
	EvictionInterval    time.Duration `yaml:"evictionInterval"`
	// PortRegistry maps well-known service names to their default ports.
	// It is the last-resort port source for dynamic descriptors and the
	// only port source for static fallback instances.
	PortRegistry map[string]int `yaml:"portRegistry"`
	// Hosts overrides the static fallback host per service (default localhost).
	Hosts map[string]string `yaml:"hosts"`
}

// RedisConfig selects the shared store for rate limiting and caching.
// All fields empty means in-process stores only.
type RedisConfig struct {
	URL            string   `yaml:"url"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Password       string   `yaml:"password"`
	SentinelHosts  []string `yaml:"sentinelHosts"`
	SentinelMaster string   `yaml:"sentinelMaster"`
}

// Enabled reports whether any Redis connection is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Host != "" || len(r.SentinelHosts) > 0
}

// CircuitBreakerConfig holds per-service breaker settings. The zero
// value of a field means "inherit the global default".
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	SuccessThreshold int           `yaml:"successThreshold"`
	// Timeout bounds the downstream call for the service.
	Timeout          time.Duration `yaml:"timeout"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
	MonitoringWindow time.Duration `yaml:"monitoringWindow"`
	VolumeThreshold  int           `yaml:"volumeThreshold"`
}

// Merge overlays non-zero fields of o on top of c.
func (c CircuitBreakerConfig) Merge(o CircuitBreakerConfig) CircuitBreakerConfig {
	if o.FailureThreshold > 0 {
		c.FailureThreshold = o.FailureThreshold
	}
	if o.SuccessThreshold > 0 {
		c.SuccessThreshold = o.SuccessThreshold
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.ResetTimeout > 0 {
		c.ResetTimeout = o.ResetTimeout
	}
	if o.MonitoringWindow > 0 {
		c.MonitoringWindow = o.MonitoringWindow
	}
	if o.VolumeThreshold > 0 {
		c.VolumeThreshold = o.VolumeThreshold
	}
	return c
}

// IdentityConfig holds the HMAC secret for signed identity headers.
type IdentityConfig struct {
	Secret string `yaml:"secret"`
}

// ServiceConfig is a service manifest entry: per-service policy
// defaults and breaker overrides.
type ServiceConfig struct {
	Name           string                `yaml:"name"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
	Defaults       policy.Set            `yaml:"defaults"`
}

// RouteConfig describes a single route in the static manifest or an
// admin route payload.
type RouteConfig struct {
	Path         string            `yaml:"path" json:"path"`
	Service      string            `yaml:"service" json:"service"`
	RewritePath  string            `yaml:"rewritePath,omitempty" json:"rewritePath,omitempty"`
	StripPrefix  bool              `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries      int               `yaml:"retries,omitempty" json:"retries,omitempty"`
	AuthRequired bool              `yaml:"authRequired,omitempty" json:"authRequired,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Policies     policy.Overrides  `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// DefaultPortRegistry lists the well-known services and their ports.
func DefaultPortRegistry() map[string]int {
	return map[string]int{
		"user-service":      3001,
		"catalog-service":   3002,
		"playback-service":  3003,
		"playlist-service":  3004,
		"streaming-service": 3005,
		"ai-config-service": 3006,
		"anomaly-service":   3007,
		"system-service":    3010,
	}
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			Env:           "development",
			RequestBudget: 30 * time.Second,
		},
		Log: logging.Config{Level: "info"},
		CORS: CORSConfig{
			Origins:        []string{},
			Methods:        []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
			MaxAge:         600,
			DevWildcards:   true,
		},
		Discovery: DiscoveryConfig{
			ControlPlaneURL:     "http://localhost:3010",
			HealthCheckInterval: 60 * time.Second,
			ProbeInterval:       45 * time.Second,
			ServiceTTL:          time.Hour,
			EvictionInterval:    5 * time.Minute,
			PortRegistry:        DefaultPortRegistry(),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			ResetTimeout:     30 * time.Second,
			MonitoringWindow: 10 * time.Second,
			VolumeThreshold:  10,
		},
	}
}

// ServiceDefaults returns the manifest policy defaults for a service,
// or the registry default set when the service has no entry.
func (c *Config) ServiceDefaults(name string) policy.Set {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc.Defaults
		}
	}
	return policy.DefaultSet()
}

// BreakerFor returns the merged circuit breaker config for a service:
// global defaults, manifest overrides, then environment overrides.
func (c *Config) BreakerFor(name string) CircuitBreakerConfig {
	cfg := c.CircuitBreaker
	for _, svc := range c.Services {
		if svc.Name == name && svc.CircuitBreaker != nil {
			cfg = cfg.Merge(*svc.CircuitBreaker)
			break
		}
	}
	return cfg.Merge(breakerFromEnv(name))
}

// breakerFromEnv reads <NAME_UPPER>_CIRCUIT_BREAKER_* overrides.
func breakerFromEnv(name string) CircuitBreakerConfig {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_CIRCUIT_BREAKER_"

	var cfg CircuitBreakerConfig
	cfg.FailureThreshold = envInt(prefix + "FAILURE_THRESHOLD")
	cfg.SuccessThreshold = envInt(prefix + "SUCCESS_THRESHOLD")
	cfg.VolumeThreshold = envInt(prefix + "VOLUME_THRESHOLD")
	cfg.Timeout = envMillis(prefix + "TIMEOUT")
	cfg.ResetTimeout = envMillis(prefix + "RESET_TIMEOUT")
	cfg.MonitoringWindow = envMillis(prefix + "MONITORING_WINDOW")
	return cfg
}

// ApplyEnv overlays process environment settings onto the config.
func (c *Config) ApplyEnv() {
	if v := envInt("API_GATEWAY_PORT"); v > 0 {
		c.Server.Port = v
	} else if v := envInt("PORT"); v > 0 {
		c.Server.Port = v
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORS.Origins = splitTrim(v)
	}
	if v := os.Getenv("CORS_ALLOW_CREDENTIALS"); v != "" {
		c.CORS.AllowCredentials = v == "true" || v == "1"
	}
	if v := os.Getenv("CORS_METHODS"); v != "" {
		c.CORS.Methods = splitTrim(v)
	}
	if v := os.Getenv("CORS_ALLOWED_HEADERS"); v != "" {
		c.CORS.AllowedHeaders = splitTrim(v)
	}
	if v := envInt("CORS_MAX_AGE"); v > 0 {
		c.CORS.MaxAge = v
	}
	if v := os.Getenv("CORS_DEV_WILDCARDS"); v != "" {
		c.CORS.DevWildcards = v == "true" || v == "1"
	}

	if v := os.Getenv("SYSTEM_SERVICE_URL"); v != "" {
		c.Discovery.ControlPlaneURL = v
	}
	if v := envMillis("HEALTH_CHECK_INTERVAL"); v > 0 {
		c.Discovery.HealthCheckInterval = v
	}
	if v := envMillis("DISCOVERY_PROBE_INTERVAL"); v > 0 {
		c.Discovery.ProbeInterval = v
	}
	if v := envMillis("SERVICE_TTL_MS"); v > 0 {
		c.Discovery.ServiceTTL = v
	}
	if v := envMillis("EVICTION_INTERVAL_MS"); v > 0 {
		c.Discovery.EvictionInterval = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := envInt("REDIS_PORT"); v > 0 {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_SENTINEL_HOSTS"); v != "" {
		c.Redis.SentinelHosts = splitTrim(v)
	}
	if v := os.Getenv("REDIS_SENTINEL_MASTER"); v != "" {
		c.Redis.SentinelMaster = v
	}

	if v := os.Getenv("GATEWAY_IDENTITY_SECRET"); v != "" {
		c.Identity.Secret = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestBudget <= 0 {
		return fmt.Errorf("server.requestBudget must be positive")
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, rt := range c.Routes {
		if rt.Path == "" {
			return fmt.Errorf("routes[%d]: path is required", i)
		}
		if !strings.HasPrefix(rt.Path, "/") {
			return fmt.Errorf("routes[%d]: path %q must start with /", i, rt.Path)
		}
		if rt.Service == "" {
			return fmt.Errorf("routes[%d]: service is required", i)
		}
		if seen[rt.Path] {
			return fmt.Errorf("routes[%d]: duplicate path %q", i, rt.Path)
		}
		seen[rt.Path] = true
	}

	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
	}
	return nil
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envMillis(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Millisecond
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
