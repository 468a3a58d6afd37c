package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/rs/zerolog"
)

// Default bounds for the memory tier.
const (
	DefaultMemoryEntries = 512
	DefaultMemoryBytes   = 64 << 20
)

// MemoryConfig bounds the memory tier.
type MemoryConfig struct {
	MaxEntries int
	MaxBytes   int64
}

// MemoryTier is a thread-safe in-memory LRU bounded both by entry count and
// by the total size of the stored values.
type MemoryTier struct {
	maxBytes int64
	logger   zerolog.Logger

	mu    sync.Mutex
	lru   *simplelru.LRU[media.CacheKey, []byte]
	bytes int64
}

// NewMemoryTier creates a memory tier. Zero bounds fall back to the defaults.
func NewMemoryTier(cfg MemoryConfig, logger zerolog.Logger) (*MemoryTier, error) {
	if cfg.MaxEntries < 0 || cfg.MaxBytes < 0 {
		return nil, fmt.Errorf("memory tier bounds must not be negative")
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMemoryEntries
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMemoryBytes
	}

	m := &MemoryTier{
		maxBytes: cfg.MaxBytes,
		logger:   logger.With().Str("component", "MemoryTier").Logger(),
	}
	lru, err := simplelru.NewLRU[media.CacheKey, []byte](cfg.MaxEntries, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	m.lru = lru
	return m, nil
}

// onEvict runs under m.mu; simplelru calls it for every removal.
func (m *MemoryTier) onEvict(key media.CacheKey, value []byte) {
	m.bytes -= int64(len(value))
}

// Load is the synchronous lookup. A hit marks the entry as recently used.
func (m *MemoryTier) Load(key media.CacheKey) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Get(key)
}

// Get implements Tier.
func (m *MemoryTier) Get(_ context.Context, key media.CacheKey) ([]byte, bool, error) {
	value, ok := m.Load(key)
	return value, ok, nil
}

// Set implements Tier. A value larger than the byte bound is not stored.
func (m *MemoryTier) Set(_ context.Context, key media.CacheKey, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int64(len(value)) > m.maxBytes {
		m.lru.Remove(key)
		m.logger.Debug().Str("key", key.String()).Int("bytes", len(value)).Msg("Value exceeds memory tier capacity, not stored.")
		return nil
	}

	// simplelru does not report replaced values through the eviction callback.
	if old, ok := m.lru.Peek(key); ok {
		m.bytes -= int64(len(old))
	}
	m.lru.Add(key, value)
	m.bytes += int64(len(value))

	for m.bytes > m.maxBytes {
		evicted, _, ok := m.lru.RemoveOldest()
		if !ok {
			break
		}
		m.logger.Debug().Str("key", evicted.String()).Msg("Evicted to stay within byte bound.")
	}
	return nil
}

// Delete implements Tier.
func (m *MemoryTier) Delete(_ context.Context, key media.CacheKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}

// Clear implements Tier.
func (m *MemoryTier) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.bytes = 0
	return nil
}

// Stats implements StatsReporter.
func (m *MemoryTier) Stats(_ context.Context) (TierStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return TierStats{Entries: m.lru.Len(), Bytes: m.bytes}, nil
}

// Close is a no-op for the memory tier but satisfies the Tier interface.
func (m *MemoryTier) Close() error {
	return nil
}
