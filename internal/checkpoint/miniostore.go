package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Prefix          string
	UseSSL          bool
	MaxRetries      int
	ConnectTimeout  time.Duration
}

// MinIOStore keeps checkpoints as objects in one bucket.
type MinIOStore struct {
	client *minio.Client
	cfg    MinIOConfig
}

func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}
	return &MinIOStore{client: client, cfg: cfg}, nil
}

func (s *MinIOStore) key(model string) string {
	return s.cfg.Prefix + model + ".json"
}

func (s *MinIOStore) retry(ctx context.Context, op backoff.Operation) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 200 * time.Millisecond
	ebo.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(s.cfg.MaxRetries)), ctx))
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *MinIOStore) Put(ctx context.Context, model string, data []byte) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.key(model), bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		return err
	})
	if err != nil {
		return fmt.Errorf("minio put %q: %w", s.key(model), err)
	}
	return nil
}

func (s *MinIOStore) Get(ctx context.Context, model string) ([]byte, error) {
	var out []byte
	err := s.retry(ctx, func() error {
		obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.key(model), minio.GetObjectOptions{})
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}
		defer func() { _ = obj.Close() }()
		b, err := io.ReadAll(obj)
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("minio get %q: %w", s.key(model), err)
	}
	return out, nil
}

func (s *MinIOStore) Close() error { return nil }
