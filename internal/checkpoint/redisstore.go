package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

type RedisOption func(*redis.Options)

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// RedisStore shares checkpoints between the trainer and running optimizers.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, prefix string, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if prefix == "" {
		prefix = "stream-optimizer:checkpoint:"
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(model string) string { return s.prefix + model }

func (s *RedisStore) Put(ctx context.Context, model string, data []byte) error {
	if err := s.rdb.Set(ctx, s.key(model), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", s.key(model), err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, model string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(model)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", s.key(model), err)
	}
	return b, nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
