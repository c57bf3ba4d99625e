package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/config"
	"github.com/soundrift/gateway/internal/logging"
)

// State is the breaker's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker is a per-service circuit breaker. The breaker opens when the
// failures inside the monitoring window reach the failure threshold
// AND the window has seen at least the volume threshold of calls; it
// probes again after the reset timeout and closes after enough
// consecutive successes.
type Breaker struct {
	service string
	cfg     config.CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	successes int
	openedAt  time.Time
	// events holds the calls inside the monitoring window.
	events []event
}

type event struct {
	at      time.Time
	failure bool
}

// New creates a closed breaker for a service.
func New(service string, cfg config.CircuitBreakerConfig) *Breaker {
	return &Breaker{
		service: service,
		cfg:     cfg,
		state:   StateClosed,
	}
}

// Allow reports whether a call may proceed. In the open state it flips
// to half-open once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordEvent(false)

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure notes a failed call. A single failure in half-open
// reopens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordEvent(true)

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.windowFailures() >= b.cfg.FailureThreshold && len(b.events) >= b.cfg.VolumeThreshold {
			b.transition(StateOpen)
		}
	}
}

// recordEvent appends the call and prunes events older than the
// monitoring window. Callers hold the lock.
func (b *Breaker) recordEvent(failure bool) {
	now := time.Now()
	b.events = append(b.events, event{at: now, failure: failure})

	cutoff := now.Add(-b.cfg.MonitoringWindow)
	drop := 0
	for drop < len(b.events) && b.events[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.events = append(b.events[:0], b.events[drop:]...)
	}
}

// windowFailures counts the failures still inside the monitoring
// window. Callers hold the lock.
func (b *Breaker) windowFailures() int {
	n := 0
	for _, e := range b.events {
		if e.failure {
			n++
		}
	}
	return n
}

// transition changes state and resets the counters the new state
// starts from. Callers hold the lock.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	logging.Info("circuit breaker state change",
		zap.String("service", b.service),
		zap.String("from", string(b.state)),
		zap.String("to", string(next)))

	b.state = next
	switch next {
	case StateOpen:
		b.openedAt = time.Now()
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	case StateClosed:
		b.successes = 0
		b.events = b.events[:0]
	}
}

// State returns the breaker's current state, applying the open →
// half-open timeout first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// Snapshot is a point-in-time view for admin inspection.
type Snapshot struct {
	Service      string    `json:"service"`
	State        State     `json:"state"`
	Failures     int       `json:"failures"`
	Successes    int       `json:"successes"`
	WindowEvents int       `json:"windowEvents"`
	OpenedAt     time.Time `json:"openedAt,omitempty"`
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Service:      b.service,
		State:        b.state,
		Failures:     b.windowFailures(),
		Successes:    b.successes,
		WindowEvents: len(b.events),
	}
	if b.state == StateOpen {
		snap.OpenedAt = b.openedAt
	}
	return snap
}
