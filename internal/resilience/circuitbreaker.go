// Package resilience keeps the voice pipeline usable when a provider
// misbehaves. A [CircuitBreaker] stops the conversation loop from dialing a
// backend that keeps refusing stream opens, and a [FallbackGroup] routes
// around it to the next configured backend so a session degrades instead of
// stalling.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is refusing calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults. Provider calls here are session opens (an STT WebSocket
// dial, the first request of an LLM stream), which happen at most a few
// times per conversational turn: trip early, probe again quickly.
const (
	defaultMaxFailures  = 3
	defaultResetTimeout = 15 * time.Second
	defaultHalfOpenMax  = 2
)

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels the protected backend in logs.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker refuses calls before
	// probing again.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. The breaker
	// closes once this many probes succeed; any probe failure re-trips it.
	HalfOpenMax int
}

// CircuitBreaker is a three-state breaker (closed, open, half-open) in front
// of one provider backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu        sync.Mutex
	state     State
	failures  int // consecutive, closed state only
	trippedAt time.Time
	probes    int // calls admitted in the current half-open episode
	probeHits int // probe successes in the current half-open episode
}

// NewCircuitBreaker builds a breaker from cfg, filling defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = defaultHalfOpenMax
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker is refusing calls, and feeds the
// outcome back into the breaker's state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, admit := cb.admit()
	if !admit {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(err, probe)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.trippedAt) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeHits = 0
		slog.Info("probing tripped provider", "provider", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, false
		}
		cb.probes++
		return true, true
	}
	return false, true
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && probe:
		cb.probeHits++
		if cb.probeHits >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			slog.Info("provider recovered, breaker closed", "provider", cb.name)
		}
	case err == nil:
		cb.failures = 0
	case probe:
		// One failed probe is enough to re-trip.
		cb.state = StateOpen
		cb.trippedAt = time.Now()
		slog.Warn("provider probe failed, breaker re-tripped", "provider", cb.name)
	default:
		cb.failures++
		cb.trippedAt = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("provider tripped breaker",
				"provider", cb.name, "consecutive_failures", cb.failures)
		}
	}
}

// State reports the breaker's effective mode: an open breaker whose reset
// timeout has elapsed reports half-open even though the transition happens
// on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.trippedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeHits = 0
}
