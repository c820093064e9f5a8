package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// BackendConfig selects and configures one Store implementation.
type BackendConfig struct {
	Backend   string // file, redis or minio
	Dir       string
	RedisAddr string
	Prefix    string
	MinIO     MinIOConfig

	// Zero keeps the store defaults.
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
}

func (c BackendConfig) redisOptions() []RedisOption {
	var opts []RedisOption
	if c.RedisDialTimeout > 0 {
		opts = append(opts, WithDialTimeout(c.RedisDialTimeout))
	}
	if c.RedisReadTimeout > 0 {
		opts = append(opts, WithReadTimeout(c.RedisReadTimeout))
	}
	if c.RedisWriteTimeout > 0 {
		opts = append(opts, WithWriteTimeout(c.RedisWriteTimeout))
	}
	return opts
}

func Open(ctx context.Context, c BackendConfig) (Store, error) {
	switch c.Backend {
	case "", "file":
		return NewFileStore(c.Dir)
	case "redis":
		return NewRedisStore(ctx, c.RedisAddr, c.Prefix, c.redisOptions()...)
	case "minio":
		return NewMinIOStore(ctx, c.MinIO)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", c.Backend)
	}
}
