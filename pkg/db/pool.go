// Package db persists provider modules, providers and indication consumers
// in PostgreSQL via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

const (
	maxConns          = 20
	minConns          = 2
	healthCheckPeriod = 30 * time.Second
)

// poolConfig parses databaseURL and applies the pool limits. Limits given as
// pool_max_conns or pool_min_conns in the URL are kept.
func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%s - database URL is empty", logPrefix)
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	if !strings.Contains(databaseURL, "pool_max_conns") {
		config.MaxConns = maxConns
	}
	if config.MinConns == 0 {
		config.MinConns = minConns
	}
	config.HealthCheckPeriod = healthCheckPeriod
	return config, nil
}

// NewPool connects to the registration database and verifies it answers.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Connecting to database %s on %s", logPrefix, config.ConnConfig.Database, config.ConnConfig.Host))

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max %d connections)", logPrefix, config.MaxConns))
	return pool, nil
}
