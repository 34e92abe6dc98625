package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T) (*Memory, *fakeClock) {
	t.Helper()

	m, err := NewMemory(100)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.Now

	return m, clock
}

func TestNewMemory_InvalidSize(t *testing.T) {
	m, err := NewMemory(0)
	assert.Error(t, err)
	assert.Nil(t, m)
}

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t)

	exists, err := m.Exists(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Get(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t)

	err := m.Set(ctx, "test-key", "testdata")
	require.NoError(t, err)

	exists, err := m.Exists(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, exists)

	value, err := m.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "testdata", value)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t)

	require.NoError(t, m.Set(ctx, "test-key", "testdata"))

	removed, err := m.Delete(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.Delete(ctx, "test-key")
	require.NoError(t, err)
	assert.False(t, removed)

	exists, err := m.Exists(ctx, "test-key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryExpire(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(t)

	require.NoError(t, m.Set(ctx, "test-key", "testdata"))
	require.NoError(t, m.Expire(ctx, "test-key", time.Minute))

	clock.Advance(59 * time.Second)
	exists, err := m.Exists(ctx, "test-key")
	require.NoError(t, err)
	assert.True(t, exists)

	clock.Advance(time.Second)
	exists, err = m.Exists(ctx, "test-key")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Get(ctx, "test-key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExpire_ZeroPersists(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(t)

	require.NoError(t, m.Set(ctx, "test-key", "testdata"))
	require.NoError(t, m.Expire(ctx, "test-key", time.Second))
	require.NoError(t, m.Expire(ctx, "test-key", 0))

	clock.Advance(24 * time.Hour)

	value, err := m.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "testdata", value)
}

func TestMemorySet_ClearsExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(t)

	require.NoError(t, m.Set(ctx, "test-key", "first"))
	require.NoError(t, m.Expire(ctx, "test-key", time.Second))
	require.NoError(t, m.Set(ctx, "test-key", "second"))

	clock.Advance(time.Hour)

	value, err := m.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestMemoryExpire_MissingKey(t *testing.T) {
	m, _ := newTestMemory(t)

	err := m.Expire(context.Background(), "absent", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryFlush(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(t)

	require.NoError(t, m.Set(ctx, "a", "1"))
	require.NoError(t, m.Set(ctx, "b", "2"))

	require.NoError(t, m.Flush(ctx))

	for _, key := range []string{"a", "b"} {
		exists, err := m.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}

	assert.NoError(t, m.Close())
}
