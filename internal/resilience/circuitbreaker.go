// Package resilience protects calls to the remote model with circuit breakers
// and ordered failover between equivalent backends (for example a primary and
// a fallback model name).
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A probe
	// failure re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed, and successes needed,
	// in the half-open state. Default: 3.
	HalfOpenMax int

	// OnStateChange, if non-nil, is called after every transition with the
	// mutex released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state (closed, open, half-open) breaker.
//
// Caller cancellation is not a backend failure: errors matching
// [context.Canceled] neither trip nor reset the breaker.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	now          func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changed []transition
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		changed = append(changed, cb.setLocked(StateHalfOpen))
		cb.probes, cb.probeSuccess = 0, 0
	}
	switch {
	case cb.state == StateOpen,
		cb.state == StateHalfOpen && cb.probes >= cb.halfOpenMax:
		cb.mu.Unlock()
		cb.notify(changed)
		return ErrCircuitOpen
	}
	probe := cb.state == StateHalfOpen
	if probe {
		cb.probes++
	}
	cb.mu.Unlock()
	cb.notify(changed)

	err := fn()

	cb.mu.Lock()
	changed = changed[:0]
	switch {
	case err == nil:
		changed = cb.succeedLocked(probe, changed)
	case errors.Is(err, context.Canceled):
		if probe {
			cb.probes--
		}
	default:
		changed = cb.failLocked(probe, changed)
	}
	cb.mu.Unlock()
	cb.notify(changed)
	return err
}

type transition struct{ from, to State }

func (cb *CircuitBreaker) setLocked(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	return t
}

func (cb *CircuitBreaker) failLocked(probe bool, changed []transition) []transition {
	if probe {
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker re-opened by failed probe", "name", cb.name)
		return append(changed, cb.setLocked(StateOpen))
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", cb.failures)
		return append(changed, cb.setLocked(StateOpen))
	}
	return changed
}

func (cb *CircuitBreaker) succeedLocked(probe bool, changed []transition) []transition {
	if !probe {
		cb.failures = 0
		return changed
	}
	cb.probeSuccess++
	if cb.state == StateHalfOpen && cb.probeSuccess >= cb.halfOpenMax {
		cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
		slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		return append(changed, cb.setLocked(StateClosed))
	}
	return changed
}

func (cb *CircuitBreaker) notify(changed []transition) {
	if cb.onChange == nil {
		return
	}
	for _, t := range changed {
		if t.from != t.to {
			cb.onChange(cb.name, t.from, t.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setLocked(StateClosed)
	cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
	cb.mu.Unlock()
	cb.notify([]transition{t})
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
