// Package store persists users, agents, threads and messages in
// PostgreSQL via pgx. All methods are safe for concurrent use; row
// mapping is done by hand over pgxpool without an ORM.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/internal/log"
)

// Store wraps a pgx connection pool with the application's queries.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store on an existing pool. The pool stays owned by the
// caller; Store never closes it.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// Pool exposes the underlying pool for readiness pings.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Connect opens a pgx pool against connString and verifies connectivity
// with a short ping.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
