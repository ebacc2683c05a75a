package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/txengine/internal/ledger"
)

const (
	redisKeyPrefix  = "txengine:"
	cleanupTimeout  = 30 * time.Second
	scanBatchLength = 512
)

// Redis keeps scratch state in Redis under a per-run key namespace. The client is
// owned by the caller; Close only deletes the run's keys.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a store whose keys live under txengine:<runID>:.
func NewRedis(client *redis.Client, runID string) *Redis {
	return &Redis{client: client, prefix: redisKeyPrefix + runID + ":"}
}

func (s *Redis) key(kind string, tx uint32) string {
	return s.prefix + kind + ":" + strconv.FormatUint(uint64(tx), 10)
}

func (s *Redis) Get(ctx context.Context, tx uint32) (ledger.StoredTx, bool, error) {
	val, err := s.client.Get(ctx, s.key("tx", tx)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.StoredTx{}, false, nil
	}
	if err != nil {
		return ledger.StoredTx{}, false, err
	}
	rec, err := decodeRecord(val)
	if err != nil {
		return ledger.StoredTx{}, false, err
	}
	return rec, true, nil
}

func (s *Redis) Put(ctx context.Context, rec ledger.StoredTx) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("tx", rec.Tx), val, 0).Err()
}

func (s *Redis) MarkReferenced(ctx context.Context, tx uint32) error {
	return s.client.Set(ctx, s.key("ref", tx), 1, 0).Err()
}

func (s *Redis) Referenced(ctx context.Context, tx uint32) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("ref", tx)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Redis) CountReferenced(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, s.prefix+"ref:*", func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

// Close deletes every key of the run.
func (s *Redis) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	return s.scan(ctx, s.prefix+"*", func(keys []string) error {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete scratch keys: %w", err)
		}
		return nil
	})
}

func (s *Redis) scan(ctx context.Context, match string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatchLength).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
