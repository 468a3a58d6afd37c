package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-mediacache/pkg/cache"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTier(t *testing.T) {
	ctx := context.Background()

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange: room for two entries.
		m, err := cache.NewMemoryTier(cache.MemoryConfig{MaxEntries: 2, MaxBytes: 1 << 20}, zerolog.Nop())
		require.NoError(t, err)

		// Act 1: Fill the tier.
		require.NoError(t, m.Set(ctx, "key1", []byte("1")))
		require.NoError(t, m.Set(ctx, "key2", []byte("2")))

		// Act 2: Touch key1 so key2 becomes least recently used.
		_, ok := m.Load("key1")
		require.True(t, ok)

		// Act 3: A third key evicts key2.
		require.NoError(t, m.Set(ctx, "key3", []byte("3")))

		// Assert
		_, ok = m.Load("key2")
		assert.False(t, ok, "key2 should have been evicted")
		v, ok, err := m.Get(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)
	})

	t.Run("Evicts by bytes", func(t *testing.T) {
		m, err := cache.NewMemoryTier(cache.MemoryConfig{MaxEntries: 100, MaxBytes: 10}, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, m.Set(ctx, "a", []byte("aaaa")))
		require.NoError(t, m.Set(ctx, "b", []byte("bbbb")))
		require.NoError(t, m.Set(ctx, "c", []byte("cccc")))

		_, ok := m.Load("a")
		assert.False(t, ok, "oldest entry should make room")
		stats, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Entries)
		assert.Equal(t, int64(8), stats.Bytes)
	})

	t.Run("Oversized value is not stored", func(t *testing.T) {
		m, err := cache.NewMemoryTier(cache.MemoryConfig{MaxEntries: 10, MaxBytes: 4}, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, m.Set(ctx, "big", []byte("too large")))
		_, ok := m.Load("big")
		assert.False(t, ok)
	})

	t.Run("Replacing a value keeps byte count exact", func(t *testing.T) {
		m, err := cache.NewMemoryTier(cache.MemoryConfig{}, zerolog.Nop())
		require.NoError(t, err)

		require.NoError(t, m.Set(ctx, "k", []byte("12345")))
		require.NoError(t, m.Set(ctx, "k", []byte("12")))
		stats, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Entries)
		assert.Equal(t, int64(2), stats.Bytes)

		require.NoError(t, m.Delete(ctx, "k"))
		stats, err = m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Bytes)
	})

	t.Run("Clear", func(t *testing.T) {
		m, err := cache.NewMemoryTier(cache.MemoryConfig{}, zerolog.Nop())
		require.NoError(t, err)
		key := media.KeyFor(media.MustParseSource("mxc://host/id"), media.NewSize(1, 1))

		require.NoError(t, m.Set(ctx, key, []byte("x")))
		require.NoError(t, m.Clear(ctx))
		_, ok := m.Load(key)
		assert.False(t, ok)
		assert.NoError(t, m.Close())
	})

	t.Run("Negative bounds", func(t *testing.T) {
		_, err := cache.NewMemoryTier(cache.MemoryConfig{MaxEntries: -1}, zerolog.Nop())
		assert.Error(t, err)
	})
}
