package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by New.
const (
	BackendNone      = "none"
	BackendInMemory  = "in_memory"
	BackendFile      = "file"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendGCS       = "gcs"
	BackendAzureBlob = "azblob"
)

// Options selects and configures a blob store backend.
type Options struct {
	Backend string

	Dir string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GCSBucket string

	AzureConnectionString string
	AzureContainer        string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the configured backend. It returns a nil store for BackendNone.
// On error the returned store is nil and the caller should run without caching.
// The closer is always non-nil.
func New(ctx context.Context, opts Options, logger *zap.Logger) (BlobStore, io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Backend {
	case "", BackendNone:
		return nil, nopCloser{}, nil
	case BackendInMemory:
		return NewInMemoryStore(), nopCloser{}, nil
	case BackendFile:
		s, err := NewFileStore(opts.Dir)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return s, nopCloser{}, nil
	case BackendMemcached:
		s := NewMemcachedStore(opts.MemcachedAddrs, opts.MemcachedTimeout, opts.MemcachedMaxIdleConns)
		if err := s.Ping(ctx); err != nil {
			logger.Warn("memcached not reachable at startup", zap.String("addrs", opts.MemcachedAddrs), zap.Error(err))
		}
		return s, s, nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, nopCloser{}, fmt.Errorf("%w: redis addr not set", ErrStoreUnavailable)
		}
		s := NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := s.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", zap.String("addr", opts.RedisAddr), zap.Error(err))
		}
		return s, s, nil
	case BackendGCS:
		s, err := NewGCSStore(ctx, opts.GCSBucket)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return s, s, nil
	case BackendAzureBlob:
		s, err := NewAzureBlobStore(opts.AzureConnectionString, opts.AzureContainer)
		if err != nil {
			return nil, nopCloser{}, err
		}
		if err := s.EnsureContainer(ctx); err != nil {
			logger.Warn("could not ensure blob container", zap.String("container", opts.AzureContainer), zap.Error(err))
		}
		return s, nopCloser{}, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("%w: unknown backend %q", ErrStoreUnavailable, opts.Backend)
	}
}
