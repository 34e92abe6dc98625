package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Valkey implements Store against a Valkey (or Redis protocol compatible)
// server. Values pass through the configured EncryptionStrategy, which also
// decides the storage key.
type Valkey struct {
	client   valkey.Client
	strategy EncryptionStrategy
}

// NewValkey wraps an existing client. The strategy parameter controls
// encryption of cached values; nil defaults to NoEncryptionStrategy.
func NewValkey(client valkey.Client, strategy EncryptionStrategy) *Valkey {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Valkey{
		client:   client,
		strategy: strategy,
	}
}

func (v *Valkey) Exists(ctx context.Context, key string) (bool, error) {
	cmd := v.client.B().Exists().Key(v.strategy.StorageKey(key)).Build()
	n, err := v.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: checking key existence: %w", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Get reads and decrypts the value at key. Decryption failures are returned
// as errors and the corrupted entry is invalidated on a best-effort basis.
func (v *Valkey) Get(ctx context.Context, key string) (string, error) {
	storageKey := v.strategy.StorageKey(key)

	cmd := v.client.B().Get().Key(storageKey).Build()
	val, err := v.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return "", fmt.Errorf("%w: failed to get cached value: %w", ErrUnavailable, err)
	}

	data, err := v.strategy.DecryptValue(ctx, val, key)
	if err != nil {
		_ = v.client.Do(ctx, v.client.B().Del().Key(storageKey).Build()).Error()

		return "", fmt.Errorf("%w: cache decryption failure for key %q: %w", ErrUnavailable, key, err)
	}

	return string(data), nil
}

func (v *Valkey) Set(ctx context.Context, key string, value string) error {
	stored, err := v.strategy.EncryptValue(ctx, []byte(value), key)
	if err != nil {
		return fmt.Errorf("failed to encrypt cached value: %w", err)
	}

	cmd := v.client.B().Set().Key(v.strategy.StorageKey(key)).Value(stored).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: failed to set cached value: %w", ErrUnavailable, err)
	}
	return nil
}

// Expire applies ttl to key. Valkey deletes a key given a non-positive
// EXPIRE, so a zero ttl is sent as PERSIST instead.
func (v *Valkey) Expire(ctx context.Context, key string, ttl time.Duration) error {
	storageKey := v.strategy.StorageKey(key)

	var cmd valkey.Completed
	if ttl <= 0 {
		cmd = v.client.B().Persist().Key(storageKey).Build()
	} else {
		// EXPIRE has whole-second resolution; round up so that a sub-second
		// ttl does not become an immediate delete.
		secs := int64(math.Ceil(ttl.Seconds()))
		cmd = v.client.B().Expire().Key(storageKey).Seconds(secs).Build()
	}

	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: failed to set cache expiry: %w", ErrUnavailable, err)
	}
	return nil
}

func (v *Valkey) Delete(ctx context.Context, key string) (bool, error) {
	cmd := v.client.B().Del().Key(v.strategy.StorageKey(key)).Build()
	n, err := v.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete cached value: %w", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Flush empties the selected logical database.
func (v *Valkey) Flush(ctx context.Context) error {
	cmd := v.client.B().Flushdb().Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: failed to flush cache: %w", ErrUnavailable, err)
	}
	return nil
}

// Close releases resources associated with the cache client and encryption strategy.
func (v *Valkey) Close() error {
	if err := v.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	v.client.Close()
	return nil
}
