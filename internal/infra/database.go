package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	publishApplicationName = "txengine-publish"
	maxPublishConns        = 2
)

// PublishPoolConfig parses url into the pool settings used to publish balances. A run
// holds at most one transaction open, so the pool is capped and idle connections are
// not kept warm.
func PublishPoolConfig(url string) (*pgxpool.Config, error) {
	if url == "" {
		return nil, fmt.Errorf("balances database: DATABASE_URL is empty")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("balances database: parse url: %w", err)
	}
	if cfg.MaxConns > maxPublishConns {
		cfg.MaxConns = maxPublishConns
	}
	cfg.MinConns = 0
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = publishApplicationName
	}
	return cfg, nil
}

// NewPostgresPool opens the publish pool and pings it so a bad DATABASE_URL fails
// before any row is processed.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := PublishPoolConfig(url)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("balances database: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("balances database %s unreachable: %w", cfg.ConnConfig.Host, err)
	}
	return pool, nil
}
