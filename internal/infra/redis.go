package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scratchClientName   = "txengine-scratch"
	scratchDialTimeout  = 5 * time.Second
	scratchReadTimeout  = 10 * time.Second
	scratchWriteTimeout = 10 * time.Second
)

// ScratchRedisOptions parses url into client options for the disk-backed scratch
// store. A run issues one command at a time, so the pool stays small and every
// command gets a bounded deadline.
func ScratchRedisOptions(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("scratch redis: REDIS_URL is empty")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("scratch redis: parse url: %w", err)
	}
	if opt.ClientName == "" {
		opt.ClientName = scratchClientName
	}
	opt.PoolSize = 2
	opt.DialTimeout = scratchDialTimeout
	opt.ReadTimeout = scratchReadTimeout
	opt.WriteTimeout = scratchWriteTimeout
	return opt, nil
}

// NewRedisClient connects the scratch store client and pings it before the index pass
// writes anything.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := ScratchRedisOptions(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("scratch redis %s unreachable: %w", opt.Addr, err)
	}
	return client, nil
}
