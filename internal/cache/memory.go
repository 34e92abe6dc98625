package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero: never expires
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a process-local Store backed by otter. It is useful for single
// instance deployments and tests; it is not shared between processes.
// Expiry is tracked per entry and enforced lazily on read.
type Memory struct {
	cache *otter.Cache[string, memoryEntry]
	now   func() time.Time
}

// NewMemory creates an in-memory store holding at most maxSize entries.
func NewMemory(maxSize int) (*Memory, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("memory cache size must be positive, got %d", maxSize)
	}

	cache := otter.Must(&otter.Options[string, memoryEntry]{
		MaximumSize: maxSize,
	})

	return &Memory{
		cache: cache,
		now:   time.Now,
	}, nil
}

func (m *Memory) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		return memoryEntry{}, false
	}
	if entry.Value.expired(m.now()) {
		m.cache.Invalidate(key)
		return memoryEntry{}, false
	}
	return entry.Value, true
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	entry, ok := m.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return entry.value, nil
}

func (m *Memory) Set(_ context.Context, key string, value string) error {
	m.cache.Set(key, memoryEntry{value: value})
	return nil
}

// Expire updates the expiry of an existing entry. The read and write are not
// atomic; a concurrent Set between them loses its value to this one.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	entry, ok := m.lookup(key)
	if !ok {
		return nil
	}

	entry.expiresAt = time.Time{}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.cache.Set(key, entry)

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	m.cache.Invalidate(key)
	return ok, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

func (m *Memory) Close() error {
	return nil
}
