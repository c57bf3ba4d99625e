package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/logging"
)

// Mode describes where the registry's instances come from.
type Mode string

const (
	// ModeDynamic means the control plane is reachable and the registry
	// holds discovered instances.
	ModeDynamic Mode = "dynamic"
	// ModeStatic means the registry holds fallback instances built from
	// the port registry.
	ModeStatic Mode = "static"
	// ModeTransitioning means a discovery attempt is in progress and
	// neither instance set has been installed yet. It is the initial
	// mode and is never the resting state.
	ModeTransitioning Mode = "transitioning"
)

// Discovery keeps the registry in sync with the control plane and
// falls back to static configuration when it is unreachable.
type Discovery struct {
	registry *Registry
	client   *controlPlaneClient
	checker  *HealthChecker
	cfg      config.DiscoveryConfig

	mu           sync.Mutex
	mode         Mode
	lastSync     time.Time
	lastError    string
	failureCount int
}

// Status is a point-in-time view of the discovery subsystem.
type Status struct {
	Mode                Mode      `json:"mode"`
	ControlPlaneURL     string    `json:"controlPlaneUrl"`
	LastSync            time.Time `json:"lastSync,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Services            []Stats   `json:"services"`
}

// New creates the discovery subsystem over its own registry.
func New(cfg config.DiscoveryConfig) *Discovery {
	registry := NewRegistry()
	return &Discovery{
		registry: registry,
		client:   newControlPlaneClient(cfg.ControlPlaneURL),
		checker:  NewHealthChecker(registry, cfg.HealthCheckInterval, cfg.ServiceTTL, cfg.EvictionInterval),
		cfg:      cfg,
		mode:     ModeTransitioning,
	}
}

// Registry returns the instance registry.
func (d *Discovery) Registry() *Registry {
	return d.registry
}

// Mode returns the current discovery mode.
func (d *Discovery) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Status reports the discovery state and per-service instance counts.
func (d *Discovery) Status() Status {
	d.mu.Lock()
	s := Status{
		Mode:                d.mode,
		ControlPlaneURL:     d.cfg.ControlPlaneURL,
		LastSync:            d.lastSync,
		LastError:           d.lastError,
		ConsecutiveFailures: d.failureCount,
	}
	d.mu.Unlock()

	for _, name := range d.registry.ServiceNames() {
		s.Services = append(s.Services, d.registry.Stats(name))
	}
	return s
}

// Start performs the initial synchronization and launches the probe
// and health loops. It never fails: when the control plane cannot be
// reached the gateway starts in static mode.
func (d *Discovery) Start(ctx context.Context) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		return d.sync(ctx)
	}, policy)
	if err != nil {
		logging.Warn("control plane unreachable at startup, using static fallback",
			zap.String("url", d.cfg.ControlPlaneURL), zap.Error(err))
		d.enterStatic()
	}

	go d.probeLoop(ctx)
	go d.checker.Run(ctx)
}

// probeLoop re-synchronizes with the control plane on a fixed cadence.
func (d *Discovery) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.sync(ctx); err != nil {
				d.onProbeFailure(err)
			}
		}
	}
}

// sync fetches the control plane's service list and installs it. A
// successful sync always lands the registry in dynamic mode: any
// static fallback instances are purged before the discovered set is
// registered.
func (d *Discovery) sync(ctx context.Context) error {
	descriptors, err := d.client.Fetch(ctx)
	if err != nil {
		return err
	}

	instances := make([]*Instance, 0, len(descriptors))
	for _, desc := range descriptors {
		inst, err := materialize(desc, d.cfg.PortRegistry)
		if err != nil {
			logging.Warn("rejecting service descriptor", zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		return fmt.Errorf("control plane answered with no usable services")
	}

	d.mu.Lock()
	wasStatic := d.mode != ModeDynamic
	d.mode = ModeDynamic
	d.lastSync = time.Now()
	d.lastError = ""
	d.failureCount = 0
	d.mu.Unlock()

	if wasStatic {
		purged := d.registry.PurgeDiscovered(false)
		logging.Info("switching to dynamic discovery",
			zap.Int("purgedStatic", purged), zap.Int("discovered", len(instances)))
	}
	for _, inst := range instances {
		d.registry.Register(inst)
	}
	return nil
}

// onProbeFailure falls back to static the moment a probe fails while
// the mode is not already static, so a dead dynamic set never serves
// longer than one probe cycle. In static mode failures are expected
// and only logged at debug.
func (d *Discovery) onProbeFailure(err error) {
	d.mu.Lock()
	d.lastError = err.Error()
	d.failureCount++
	failures := d.failureCount

	if d.mode == ModeStatic {
		d.mu.Unlock()
		logging.Debug("control plane probe failed in static mode", zap.Error(err))
		return
	}
	d.mode = ModeStatic
	d.mu.Unlock()

	logging.Warn("control plane unreachable, falling back to static",
		zap.Int("failures", failures), zap.Error(err))
	d.installStatic()
}

// enterStatic flips the mode and installs the fallback set.
func (d *Discovery) enterStatic() {
	d.mu.Lock()
	d.mode = ModeStatic
	d.mu.Unlock()
	d.installStatic()
}

// installStatic purges discovered instances and registers one assumed
// healthy fallback instance per port registry entry.
func (d *Discovery) installStatic() {
	purged := d.registry.PurgeDiscovered(true)

	count := 0
	for name, port := range d.cfg.PortRegistry {
		host := d.cfg.Hosts[name]
		if host == "" {
			host = "localhost"
		}
		d.registry.Register(&Instance{
			ID:           name + "-static",
			Service:      name,
			Host:         host,
			Port:         port,
			Protocol:     "http",
			RegisteredAt: time.Now(),
			Healthy:      true,
			Discovered:   false,
		})
		count++
	}
	logging.Info("static fallback installed",
		zap.Int("purgedDiscovered", purged), zap.Int("services", count))
}

// ForceDynamic attempts an immediate control plane sync, reporting
// whether dynamic mode was reached.
func (d *Discovery) ForceDynamic(ctx context.Context) bool {
	if err := d.sync(ctx); err != nil {
		logging.Warn("forced dynamic sync failed", zap.Error(err))
		return false
	}
	return true
}

// ForceStatic switches to static fallback immediately.
func (d *Discovery) ForceStatic() {
	d.enterStatic()
}
