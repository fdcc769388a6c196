// Package session tracks the live conversations of the server in a
// UUID-keyed registry with idempotent creation and idle sweeping.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id has no live conversation.
var ErrNotFound = errors.New("session: not found")

// DefaultIdleTimeout is how long a conversation may go without activity
// before the sweeper ends it.
const DefaultIdleTimeout = 5 * time.Minute

// Conversation is the registry's view of one live conversation. The
// orchestrator package provides the implementation; the interface keeps the
// registry free of orchestration concerns.
type Conversation interface {
	// ID returns the session id.
	ID() string
	// LastActivity returns the time of the most recent frame, control
	// message, or reply token.
	LastActivity() time.Time
	// End tears the conversation down. Must be idempotent.
	End(ctx context.Context)
}

// Factory constructs the conversation for a new session id.
type Factory func(id string) (Conversation, error)

// Registry is the UUID-keyed map of live conversations. All methods are
// safe for concurrent use.
type Registry struct {
	factory     Factory
	idleTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]Conversation

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Option is a functional option for Registry.
type Option func(*Registry)

// WithIdleTimeout overrides the idle timeout applied by SweepIdle.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithLogger sets the registry logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry constructs a Registry that builds conversations with factory.
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:     factory,
		idleTimeout: DefaultIdleTimeout,
		logger:      slog.Default(),
		sessions:    make(map[string]Conversation),
		sweepStop:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the conversation for id, creating it when absent.
// Creation is idempotent: a duplicate start returns the existing
// conversation with created=false. The id must be a valid UUID.
func (r *Registry) GetOrCreate(id string) (conv Conversation, created bool, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, fmt.Errorf("session: invalid id %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return existing, false, nil
	}

	conv, err = r.factory(id)
	if err != nil {
		return nil, false, fmt.Errorf("session: create %s: %w", id, err)
	}
	r.sessions[id] = conv
	return conv, true, nil
}

// Get returns the conversation for id, or ErrNotFound.
func (r *Registry) Get(id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session: %q: %w", id, ErrNotFound)
	}
	return conv, nil
}

// End removes the conversation for id and runs its teardown. Ending an
// unknown id is a no-op.
func (r *Registry) End(ctx context.Context, id string) {
	r.mu.Lock()
	conv, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		conv.End(ctx)
	}
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepIdle ends every conversation idle for longer than the registry's
// idle timeout and returns how many were ended.
func (r *Registry) SweepIdle(ctx context.Context) int {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var idle []Conversation
	for id, conv := range r.sessions {
		if conv.LastActivity().Before(cutoff) {
			idle = append(idle, conv)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, conv := range idle {
		r.logger.Info("ending idle session", "session_id", conv.ID())
		conv.End(ctx)
	}
	return len(idle)
}

// StartSweeper launches a background goroutine that runs SweepIdle every
// interval until Close is called.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SweepIdle(ctx)
			case <-r.sweepStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the sweeper and ends every live conversation.
func (r *Registry) Close(ctx context.Context) {
	r.closeOnce.Do(func() {
		close(r.sweepStop)

		r.mu.Lock()
		remaining := make([]Conversation, 0, len(r.sessions))
		for id, conv := range r.sessions {
			remaining = append(remaining, conv)
			delete(r.sessions, id)
		}
		r.mu.Unlock()

		for _, conv := range remaining {
			conv.End(ctx)
		}
	})
}
