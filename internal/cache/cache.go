package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks failures of the backing store (connectivity, protocol,
// or corrupted entries). The underlying error remains in the chain.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a shared key/value store holding serialized values. Each call is a
// separate round trip to the backing service; implementations perform no
// client-side locking and rely on the service for per-key atomicity.
type Store interface {
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the value stored at key. A missing key is reported as an
	// error wrapping ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value string) error

	// Expire sets the time-to-live of key. A ttl of zero or less removes any
	// expiry so the entry persists until deleted.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Flush removes every key in the store's namespace.
	Flush(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned by Get when the key is absent, for example when it
// expired between an existence check and the read.
var ErrNotFound = errors.New("cache key not found")
