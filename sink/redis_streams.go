package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chinmay1088/rethx/config"
	"github.com/chinmay1088/rethx/reth"
	"github.com/redis/go-redis/v9"
)

// RedisStreams appends notifications to a redis stream.
type RedisStreams struct {
	rdb    redis.Cmdable
	close  func() error
	stream config.RedisStreamConfig
}

func NewRedisStreams(ctx context.Context, cfg config.RedisConfig) (*RedisStreams, error) {
	if cfg.Stream.Key == "" {
		return nil, errors.New("missing redis stream key")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisStreams(rdb, rdb.Close, cfg.Stream), nil
}

func newRedisStreams(rdb redis.Cmdable, closeFn func() error, stream config.RedisStreamConfig) *RedisStreams {
	return &RedisStreams{rdb: rdb, close: closeFn, stream: stream}
}

func (q *RedisStreams) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

func (q *RedisStreams) PushPersistedBlock(ctx context.Context, block *reth.PersistedBlock) error {
	if block == nil {
		return errors.New("nil persisted block")
	}
	return q.add(ctx, map[string]interface{}{
		"type":   TypePersistedBlock,
		"number": fmt.Sprintf("%d", block.Number),
		"hash":   block.Hash.Hex(),
	})
}

func (q *RedisStreams) PushChainNotification(ctx context.Context, payload json.RawMessage) error {
	return q.add(ctx, map[string]interface{}{
		"type": TypeChainNotification,
		"raw":  string(payload),
	})
}

func (q *RedisStreams) add(ctx context.Context, fields map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: q.stream.Key,
		Values: fields,
	}
	if q.stream.MaxLen > 0 {
		args.MaxLen = q.stream.MaxLen
		args.Approx = true
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add %s to stream %s: %w", fields["type"], q.stream.Key, err)
	}
	return nil
}
