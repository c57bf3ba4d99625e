package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/cache"
	"github.com/soundrift/gateway/internal/circuitbreaker"
	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/discovery"
	gwerrors "github.com/soundrift/gateway/internal/errors"
	"github.com/soundrift/gateway/internal/logging"
	"github.com/soundrift/gateway/internal/middleware"
	"github.com/soundrift/gateway/internal/middleware/ratelimit"
	"github.com/soundrift/gateway/internal/policy"
	"github.com/soundrift/gateway/internal/proxy"
	"github.com/soundrift/gateway/internal/router"
)

// Gateway ties the route table, discovery, policies, and the forward
// engine together. It is the dispatch handler for all proxied traffic.
type Gateway struct {
	cfg       *config.Config
	table     *router.Table
	metrics   *router.Metrics
	disc      *discovery.Discovery
	breakers  *circuitbreaker.Manager
	forwarder *proxy.Forwarder
	limiter   *ratelimit.Limiter
	cache     *cache.Handler
	extractor middleware.Extractor
	startedAt time.Time

	mu       sync.RWMutex
	handlers map[string]http.Handler
}

// Option customizes gateway construction.
type Option func(*Gateway)

// WithExtractor installs the identity extractor the auth middleware
// consults. Without one every caller is anonymous.
func WithExtractor(e middleware.Extractor) Option {
	return func(g *Gateway) { g.extractor = e }
}

// New builds a gateway from configuration. Redis-backed stores are
// used when configured; otherwise rate limiting and caching run
// in-process.
func New(cfg *config.Config, opts ...Option) *Gateway {
	disc := discovery.New(cfg.Discovery)
	metrics := router.NewMetrics()
	breakers := circuitbreaker.NewManager(cfg)
	signer := proxy.NewSigner(cfg.Identity.Secret)

	var limitStore ratelimit.Store
	var cacheStore cache.Store
	if client := newRedisClient(cfg.Redis); client != nil {
		limitStore = ratelimit.NewRedisStore(client)
		cacheStore = cache.NewRedisStore(client)
		logging.Info("using redis-backed rate limit and cache stores")
	} else {
		cacheStore = cache.NewMemoryStore(0, time.Hour)
	}

	g := &Gateway{
		cfg:      cfg,
		table:    router.New(),
		metrics:  metrics,
		disc:     disc,
		breakers: breakers,
		forwarder: proxy.NewForwarder(disc.Registry(), breakers, metrics, signer,
			cfg.Discovery.PortRegistry, cfg.Server.RequestBudget),
		limiter:   ratelimit.NewLimiter(limitStore),
		cache:     cache.NewHandler(cacheStore),
		handlers:  make(map[string]http.Handler),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// newRedisClient builds a client from the configured connection mode:
// URL, sentinel, or host/port. Nil when Redis is not configured.
func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	switch {
	case cfg.URL != "":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			logging.Error("invalid redis url, falling back to in-process stores", zap.Error(err))
			return nil
		}
		return redis.NewClient(opts)
	case len(cfg.SentinelHosts) > 0:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelHosts,
			Password:      cfg.Password,
		})
	case cfg.Host != "":
		port := cfg.Port
		if port == 0 {
			port = 6379
		}
		return redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
			Password: cfg.Password,
		})
	default:
		return nil
	}
}

// Start launches discovery and registers the configured routes.
func (g *Gateway) Start(ctx context.Context) error {
	g.disc.Start(ctx)

	for _, rc := range g.cfg.Routes {
		if _, err := g.AddRoute(rc); err != nil {
			return fmt.Errorf("route %q: %w", rc.Path, err)
		}
	}
	logging.Info("gateway started", zap.Int("routes", g.table.Len()))
	return nil
}

// AddRoute registers or replaces a route and builds its middleware
// chain from the resolved policies.
func (g *Gateway) AddRoute(rc config.RouteConfig) (*router.Route, error) {
	if rc.Path == "" || !strings.HasPrefix(rc.Path, "/") {
		return nil, fmt.Errorf("path must start with /")
	}
	if rc.Service == "" {
		return nil, fmt.Errorf("service is required")
	}

	resolved := policy.Resolve(g.cfg.ServiceDefaults(rc.Service), rc.Policies)
	if rc.AuthRequired {
		resolved.Auth.Required = true
		resolved.Auth.AllowGuest = false
		resolved.AuthEnabled = true
	}

	route := g.table.AddRoute(rc)
	g.setHandler(route.Path, g.buildChain(route, resolved))

	logging.Info("route registered",
		zap.String("path", route.Path),
		zap.String("service", route.Service))
	return route, nil
}

// buildChain assembles the per-route pipeline: access logging, then
// auth, then rate limiting, then caching, then the forward engine.
func (g *Gateway) buildChain(route *router.Route, p policy.Resolved) http.Handler {
	handler := g.forwarder.Handler(route, p.AuthEnabled && p.Auth.InjectUserID)

	var mws []middleware.Middleware
	if p.LoggingEnabled {
		mws = append(mws, middleware.AccessLog(p.Logging))
	}
	if p.AuthEnabled {
		mws = append(mws, middleware.AuthProjection(p.Auth, g.extractor))
	}
	if p.RateLimitEnabled {
		mws = append(mws, g.limiter.Middleware(route.Path, p.RateLimit))
	}
	if p.CacheEnabled {
		mws = append(mws, g.cache.Middleware(route.Path, p.Cache))
	}
	return middleware.Chain(handler, mws...)
}

// ReloadRoutes replaces the route set with the given manifest:
// new and changed routes are re-registered, routes absent from the
// manifest are removed.
func (g *Gateway) ReloadRoutes(routes []config.RouteConfig) {
	keep := make(map[string]bool, len(routes))
	for _, rc := range routes {
		keep[rc.Path] = true
		if _, err := g.AddRoute(rc); err != nil {
			logging.Warn("skipping invalid route on reload",
				zap.String("path", rc.Path), zap.Error(err))
		}
	}
	for _, rt := range g.table.Routes() {
		if !keep[rt.Path] {
			g.RemoveRoute(rt.Path)
		}
	}
}

// RemoveRoute drops a route and its handler. Returns true if found.
func (g *Gateway) RemoveRoute(path string) bool {
	if !g.table.RemoveRoute(path) {
		return false
	}
	g.mu.Lock()
	delete(g.handlers, path)
	g.mu.Unlock()

	logging.Info("route removed", zap.String("path", path))
	return true
}

func (g *Gateway) setHandler(path string, h http.Handler) {
	g.mu.Lock()
	g.handlers[path] = h
	g.mu.Unlock()
}

// ServeHTTP dispatches proxied traffic through the route table.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := g.table.Lookup(r.URL.Path)
	if route == nil {
		gwerrors.ErrNotFound.
			WithMessage(fmt.Sprintf("No route for %s", r.URL.Path)).
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}

	g.mu.RLock()
	handler := g.handlers[route.Path]
	g.mu.RUnlock()
	if handler == nil {
		gwerrors.ErrInternalServer.
			WithRequestID(middleware.GetRequestID(r.Context())).
			WriteJSON(w)
		return
	}
	handler.ServeHTTP(w, r)
}

// Routes returns the registered routes in match order.
func (g *Gateway) Routes() []*router.Route {
	return g.table.Routes()
}

// Metrics returns the routing metrics collector.
func (g *Gateway) Metrics() *router.Metrics {
	return g.metrics
}

// Discovery returns the discovery subsystem.
func (g *Gateway) Discovery() *discovery.Discovery {
	return g.disc
}

// Breakers returns the circuit breaker manager.
func (g *Gateway) Breakers() *circuitbreaker.Manager {
	return g.breakers
}

// Uptime reports how long the gateway has been running.
func (g *Gateway) Uptime() time.Duration {
	return time.Since(g.startedAt)
}
