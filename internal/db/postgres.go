// Package db owns the postgres connection pool. The referral store is
// read-heavy (dashboard reloads after every change notification) with a
// small number of short write transactions, so the pool favors warm idle
// connections over a large ceiling.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings are the tunables exposed to operators. Zero values fall
// back to defaults sized for a single api-server instance.
type PoolSettings struct {
	MaxConns int32
	MinConns int32
}

func (s PoolSettings) withDefaults() PoolSettings {
	if s.MaxConns == 0 {
		s.MaxConns = 16
	}
	if s.MinConns == 0 {
		s.MinConns = 2
	}
	return s
}

// Connect builds the pool and verifies connectivity before returning, so
// a bad DSN surfaces at process start instead of on the first referral.
func Connect(ctx context.Context, dsn string, settings PoolSettings) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	settings = settings.withDefaults()
	cfg.MaxConns = settings.MaxConns
	cfg.MinConns = settings.MinConns
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
