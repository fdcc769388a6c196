package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Try] when no entry in the group could serve
// the call. It wraps the last entry's error, so sentinel checks (for
// example a fatal-credentials error from the only backend) still work
// through the group.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker configuration applied to every entry of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type entry[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary backend with ordered fallbacks of the same
// provider type. Each entry carries its own [CircuitBreaker], so a backend
// that keeps failing is skipped outright instead of being re-dialed on
// every turn.
//
// AddFallback must not be called concurrently with [Try]; wire the group up
// before handing it to the pipeline.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup builds a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, backend T) {
	g.add(name, backend)
}

func (g *FallbackGroup[T]) add(name string, backend T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		backend: backend,
		breaker: NewCircuitBreaker(bc),
	})
}

// Try runs fn against each entry in order until one succeeds, skipping
// entries whose breaker is open. A package-level function because Go has no
// method-level type parameters.
func Try[T any, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.entries {
		e := &g.entries[i]

		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.backend)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping tripped provider", "provider", e.name)
		} else {
			slog.Warn("provider call failed, trying next",
				"provider", e.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
