// Package mock provides a recording test double for memory.ExchangeStore.
package mock

import (
	"context"
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/memory"
)

// Store is an in-memory ExchangeStore that records every saved exchange.
// Zero value is ready for use.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by every SaveExchange call.
	SaveErr error

	saved []memory.Exchange
}

var _ memory.ExchangeStore = (*Store)(nil)

// SaveExchange records ex and returns SaveErr.
func (s *Store) SaveExchange(_ context.Context, ex memory.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.saved = append(s.saved, ex)
	return nil
}

// RecentExchanges returns up to limit recorded exchanges for sessionID,
// newest first.
func (s *Store) RecentExchanges(_ context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []memory.Exchange{}
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.saved[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Saved returns a copy of every recorded exchange in arrival order.
func (s *Store) Saved() []memory.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Exchange, len(s.saved))
	copy(out, s.saved)
	return out
}

// SavedCount returns the number of recorded exchanges. Thread-safe.
func (s *Store) SavedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// Reset clears all recorded exchanges.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
}
