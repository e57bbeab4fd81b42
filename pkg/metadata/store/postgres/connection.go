// Package postgres implements the Metadata Store Adapter (§4.B) over
// PostgreSQL: typed CRUD, advisory locks, prefix-hierarchy maintenance,
// sharding, and event emission, all behind authorized and privileged
// transaction scopes (§4.C).
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// poolConnectionAcquireTimeout bounds how long a transaction waits for a
// free connection before surfacing DatabaseTimeout, so an exhausted pool
// fails fast instead of hanging the request indefinitely.
const poolConnectionAcquireTimeout = 10 * time.Second

// Config configures the pool backing a single tenant's Store.
type Config struct {
	DSN                     string
	MaxConnections          int32
	ConnectionTimeout       time.Duration
	FreePoolAfterInactivity time.Duration
}

func newPool(ctx context.Context, cfg Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("metadata: parse DSN: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	if cfg.ConnectionTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
	}
	if cfg.FreePoolAfterInactivity > 0 {
		poolConfig.MaxConnIdleTime = cfg.FreePoolAfterInactivity
	}

	acquireCtx, cancel := context.WithTimeout(ctx, poolConnectionAcquireTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(acquireCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("metadata: create connection pool: %w", err)
	}

	if err := pool.Ping(acquireCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata: ping: %w", err)
	}

	logger.Info("metadata store connection pool ready",
		"max_conns", poolConfig.MaxConns,
		"idle_timeout", cfg.FreePoolAfterInactivity)

	return pool, nil
}
