// Package gate puts policy in front of the shared cache: a runtime switch
// that bypasses the cache entirely, the expiry applied to writes, key
// normalization, and cancellation checks before each round trip.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chinmina/oidc-gateway/internal/cache"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidKey is returned when an operation is given an empty key.
	ErrInvalidKey = errors.New("cache key must not be empty")

	// ErrInvalidTTL is returned when a write is given a negative expiry.
	ErrInvalidTTL = errors.New("cache ttl must not be negative")
)

// Settings supplies the runtime switches consulted on every operation.
type Settings interface {
	// CacheDisabled reports whether the cache should be bypassed.
	CacheDisabled() bool

	// DefaultCacheTTL returns the expiry applied when a write does not supply
	// one. ok is false when no usable value is configured.
	DefaultCacheTTL() (ttl time.Duration, ok bool)
}

// Entry is the result of a cache read. When Valid is false, Value is the zero
// value and must not be treated as a cached result.
type Entry[T any] struct {
	Valid bool
	Value T
}

// Gate mediates all access to the shared cache.
type Gate struct {
	store    cache.Store
	settings Settings
	logger   zerolog.Logger
}

func New(store cache.Store, settings Settings, logger zerolog.Logger) *Gate {
	return &Gate{
		store:    store,
		settings: settings,
		logger:   logger.With().Str("component", "cache-gate").Logger(),
	}
}

// TryGetString returns the cached value for key. A disabled cache always
// misses without contacting the store.
func (g *Gate) TryGetString(ctx context.Context, key string) (Entry[string], error) {
	if key == "" {
		return Entry[string]{}, ErrInvalidKey
	}

	if g.settings.CacheDisabled() {
		g.logger.Trace().Str("key", key).Msg("cache disabled, skipping read")
		return Entry[string]{}, nil
	}

	key = normalize(key)

	if err := ctx.Err(); err != nil {
		return Entry[string]{}, err
	}

	found, err := g.store.Exists(ctx, key)
	if err != nil {
		return Entry[string]{}, fmt.Errorf("checking cache for %q: %w", key, err)
	}
	if !found {
		g.logger.Trace().Str("key", key).Msg("cache miss")
		return Entry[string]{}, nil
	}

	if err := ctx.Err(); err != nil {
		return Entry[string]{}, err
	}

	value, err := g.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		// expired between the existence check and the read
		g.logger.Trace().Str("key", key).Msg("cache miss")
		return Entry[string]{}, nil
	}
	if err != nil {
		return Entry[string]{}, fmt.Errorf("reading cache for %q: %w", key, err)
	}

	g.logger.Trace().Str("key", key).Msg("cache hit")

	return Entry[string]{Valid: true, Value: value}, nil
}

// SetString stores value at key and applies an expiry. A positive ttlOverride
// is used as given; zero selects the configured default. A resolved expiry
// of zero leaves the entry without expiry.
func (g *Gate) SetString(ctx context.Context, key string, value string, ttlOverride time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttlOverride < 0 {
		return ErrInvalidTTL
	}

	if g.settings.CacheDisabled() {
		g.logger.Trace().Str("key", key).Msg("cache disabled, skipping write")
		return nil
	}

	key = normalize(key)
	ttl := g.resolveTTL(ttlOverride)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("writing cache for %q: %w", key, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.store.Expire(ctx, key, ttl); err != nil {
		return fmt.Errorf("setting cache expiry for %q: %w", key, err)
	}

	g.logger.Trace().Str("key", key).Dur("ttl", ttl).Msg("cache set")

	return nil
}

// Remove deletes key from the cache. It reports true whenever no error
// occurs, including when the key was absent or the cache is disabled.
func (g *Gate) Remove(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	if g.settings.CacheDisabled() {
		return true, nil
	}

	key = normalize(key)

	if err := ctx.Err(); err != nil {
		return false, err
	}

	removed, err := g.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("removing %q from cache: %w", key, err)
	}

	g.logger.Trace().Str("key", key).Bool("present", removed).Msg("cache remove")

	return true, nil
}

// Clear flushes every key in the cache's namespace, not only those written
// through this gate.
func (g *Gate) Clear(ctx context.Context) error {
	if g.settings.CacheDisabled() {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.store.Flush(ctx); err != nil {
		return fmt.Errorf("flushing cache: %w", err)
	}

	g.logger.Debug().Msg("cache cleared")

	return nil
}

// TryGetValue reads a JSON encoded value written by SetValue. A cached value
// that does not decode into T is an error, not a miss.
func TryGetValue[T any](ctx context.Context, g *Gate, key string) (Entry[T], error) {
	entry, err := g.TryGetString(ctx, key)
	if err != nil || !entry.Valid {
		return Entry[T]{}, err
	}

	var value T
	if err := json.Unmarshal([]byte(entry.Value), &value); err != nil {
		return Entry[T]{}, fmt.Errorf("decoding cached value for %q: %w", key, err)
	}

	return Entry[T]{Valid: true, Value: value}, nil
}

// SetValue JSON encodes value and stores it as SetString does.
func SetValue[T any](ctx context.Context, g *Gate, key string, value T, ttlOverride time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for %q: %w", key, err)
	}

	return g.SetString(ctx, key, string(encoded), ttlOverride)
}

func (g *Gate) resolveTTL(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}

	ttl, ok := g.settings.DefaultCacheTTL()
	if !ok {
		g.logger.Warn().Msg("default cache timeout is missing or invalid, cached entries will not expire")
		return 0
	}

	return ttl
}

func normalize(key string) string {
	return strings.ToLower(key)
}
