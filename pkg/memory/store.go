// Package memory defines the persistence sink for completed conversation
// exchanges.
//
// An exchange is one user turn plus the assistant reply it produced. The
// orchestrator saves exchanges fire-and-forget after every completed reply:
// persistence failures are logged and never surface into the live
// conversation path.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Exchange is one completed user/assistant turn.
type Exchange struct {
	// SessionID is the conversation this exchange belongs to.
	SessionID string

	// UserText is the assembled user context that prompted the reply.
	UserText string

	// ReplyText is the full assistant reply.
	ReplyText string

	// Model identifies the model that generated the reply.
	Model string

	// TokensUsed is the total token count reported by the provider, zero
	// when the provider reports no usage.
	TokensUsed int

	// Processing is the wall time from generation start to the final token.
	Processing time.Duration

	// CreatedAt is when the exchange was recorded.
	CreatedAt time.Time
}

// ExchangeStore is the abstraction over any exchange persistence backend.
type ExchangeStore interface {
	// SaveExchange appends one completed exchange. Implementations must not
	// block longer than ctx allows.
	SaveExchange(ctx context.Context, ex Exchange) error

	// RecentExchanges returns up to limit exchanges for sessionID, newest
	// first. Returns an empty (non-nil) slice when none exist.
	RecentExchanges(ctx context.Context, sessionID string, limit int) ([]Exchange, error)
}

// Discard is an ExchangeStore that drops every exchange. It backs
// deployments without a database DSN.
type Discard struct{}

var _ ExchangeStore = Discard{}

// SaveExchange implements ExchangeStore as a no-op.
func (Discard) SaveExchange(context.Context, Exchange) error { return nil }

// RecentExchanges implements ExchangeStore; it always returns an empty
// slice.
func (Discard) RecentExchanges(context.Context, string, int) ([]Exchange, error) {
	return []Exchange{}, nil
}
