// Package postgres implements the exchange store on PostgreSQL using a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vocalis-ai/vocalis/pkg/memory"
)

var _ memory.ExchangeStore = (*Store)(nil)

// Store is a PostgreSQL-backed [memory.ExchangeStore]. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and ensures the exchanges table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// ensureSchema creates the exchanges table when it does not exist yet.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS exchanges (
		    id            BIGSERIAL PRIMARY KEY,
		    session_id    UUID        NOT NULL,
		    user_text     TEXT        NOT NULL,
		    reply_text    TEXT        NOT NULL,
		    model         TEXT        NOT NULL,
		    tokens_used   INTEGER     NOT NULL DEFAULT 0,
		    processing_ns BIGINT      NOT NULL DEFAULT 0,
		    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS exchanges_session_created_idx
		    ON exchanges (session_id, created_at DESC)`

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return err
	}
	return nil
}

// SaveExchange implements [memory.ExchangeStore]. It appends ex to the
// exchanges table.
func (s *Store) SaveExchange(ctx context.Context, ex memory.Exchange) error {
	const q = `
		INSERT INTO exchanges
		    (session_id, user_text, reply_text, model, tokens_used, processing_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createdAt := ex.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q,
		ex.SessionID,
		ex.UserText,
		ex.ReplyText,
		ex.Model,
		ex.TokensUsed,
		ex.Processing.Nanoseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("exchange store: save: %w", err)
	}
	return nil
}

// RecentExchanges implements [memory.ExchangeStore]. It returns up to limit
// exchanges for sessionID, newest first.
func (s *Store) RecentExchanges(ctx context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	const q = `
		SELECT session_id, user_text, reply_text, model, tokens_used, processing_ns, created_at
		FROM   exchanges
		WHERE  session_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange store: recent: %w", err)
	}
	return collectExchanges(rows)
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("exchange store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// collectExchanges scans pgx rows into a slice of Exchange values.
func collectExchanges(rows pgx.Rows) ([]memory.Exchange, error) {
	exchanges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Exchange, error) {
		var (
			ex           memory.Exchange
			processingNS int64
		)
		if err := row.Scan(
			&ex.SessionID,
			&ex.UserText,
			&ex.ReplyText,
			&ex.Model,
			&ex.TokensUsed,
			&processingNS,
			&ex.CreatedAt,
		); err != nil {
			return memory.Exchange{}, err
		}
		ex.Processing = time.Duration(processingNS)
		return ex, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange store: scan rows: %w", err)
	}
	if exchanges == nil {
		exchanges = []memory.Exchange{}
	}
	return exchanges, nil
}
