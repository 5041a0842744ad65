package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DateLayout formats the UTC date part of the daily key.
const DateLayout = "20060102"

// ErrStoreUnavailable is returned when a backend cannot be reached or was not configured.
var ErrStoreUnavailable = errors.New("blob store unavailable")

// BlobStore is the narrow capability the service needs from object storage.
// Get returns (nil, false, nil) for an absent key; errors are reserved for
// failures of the store itself. Put overwrites unconditionally.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Pinger is implemented by backends that can report reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DailyKey returns the cache key for t's UTC calendar day, e.g. solar_20250415.json.
func DailyKey(prefix string, t time.Time) string {
	return prefix + t.UTC().Format(DateLayout) + ".json"
}

// InMemoryStore keeps blobs in a map for the lifetime of the process.
// Safe for concurrent use.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the stored blob.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put stores a copy of value under key, replacing any previous blob.
func (s *InMemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	return nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}
