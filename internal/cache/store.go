package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// ErrStoreUnavailable wraps transport-level failures of the shared store.
// The gateway decides fail-open vs fail-closed when it sees this.
var ErrStoreUnavailable = errors.New("cache: store unavailable")

// Store is the shared key-value store holding cache entries, per-key compute
// locks, and rate buckets. It must be reachable by all backend instances;
// the in-memory implementation exists for single-instance deployments and
// tests, selected when Redis is disabled in config.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets the key only if it does not exist. Used for per-key compute locks.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// IncrWindow atomically increments a fixed-window counter, starting the
	// window on the first increment. Returns the new count and the time left
	// in the window.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Ping(ctx context.Context) error
}
