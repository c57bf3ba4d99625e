package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soundrift/gateway/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker probes registered instances in the background and
// flips their health flags. Unhealthy instances stay registered;
// removal happens only through TTL eviction.
type HealthChecker struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
	// evictEvery gates how often the TTL sweep runs.
	evictEvery time.Duration
	client     *http.Client

	lastEviction time.Time
}

// NewHealthChecker creates a checker over the registry.
func NewHealthChecker(registry *Registry, interval, ttl, evictEvery time.Duration) *HealthChecker {
	return &HealthChecker{
		registry:   registry,
		interval:   interval,
		ttl:        ttl,
		evictEvery: evictEvery,
		client:     &http.Client{Timeout: healthCheckTimeout},
	}
}

// Run drives the periodic health sweep until ctx is canceled. The
// first sweep is delayed by the interval plus up to ±10% jitter so
// restarting gateways do not probe in lockstep.
func (h *HealthChecker) Run(ctx context.Context) {
	timer := time.NewTimer(jitter(h.interval))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			h.sweep(ctx)
			timer.Reset(jitter(h.interval))
		}
	}
}

// jitter spreads d by ±10%.
func jitter(d time.Duration) time.Duration {
	f := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(d) * f)
}

// sweep checks every instance in parallel, then runs the TTL eviction
// pass if it is due.
func (h *HealthChecker) sweep(ctx context.Context) {
	instances := h.registry.Instances()
	if len(instances) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(16)
		for _, inst := range instances {
			inst := inst
			g.Go(func() error {
				healthy, err := h.CheckHealth(gctx, inst)
				if err != nil {
					logging.Debug("health check failed",
						zap.String("service", inst.Service),
						zap.String("instance", inst.ID),
						zap.Error(err))
				}
				h.registry.SetHealth(inst.Service, inst.ID, healthy, time.Now())
				if healthy != inst.Healthy {
					logging.Info("instance health changed",
						zap.String("service", inst.Service),
						zap.String("instance", inst.ID),
						zap.Bool("healthy", healthy))
				}
				return nil
			})
		}
		g.Wait()
	}

	now := time.Now()
	if now.Sub(h.lastEviction) >= h.evictEvery {
		h.lastEviction = now
		for _, inst := range h.registry.EvictExpired(h.ttl, now) {
			logging.Warn("instance evicted after TTL",
				zap.String("service", inst.Service),
				zap.String("instance", inst.ID),
				zap.Duration("age", now.Sub(inst.RegisteredAt)))
		}
	}
}

// CheckHealth probes one instance. An instance is healthy only when
// its health endpoint answers 2xx with {"status":"healthy"} or a
// truthy success field; any other body counts as unhealthy.
func (h *HealthChecker) CheckHealth(ctx context.Context, inst *Instance) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.HealthURL(), nil)
	if err != nil {
		return false, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Success *bool  `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil
	}
	if body.Status == "healthy" {
		return true, nil
	}
	if body.Success != nil {
		return *body.Success, nil
	}
	return false, nil
}
