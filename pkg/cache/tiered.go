package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/illmade-knight/go-mediacache/pkg/metrics"
	"github.com/rs/zerolog"
)

// Level names the tier that answered a lookup.
type Level int

const (
	LevelNone Level = iota
	LevelMemory
	LevelDisk
	LevelShared
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	case LevelShared:
		return "shared"
	default:
		return "none"
	}
}

// TieredConfig assembles a Tiered cache. Memory is required; Disk and Shared are optional.
type TieredConfig struct {
	Memory *MemoryTier
	Disk   Tier
	Shared Tier
	// DisablePromotion stops lower-tier hits from being copied into faster tiers.
	DisablePromotion bool
}

// Tiered checks memory, then disk, then the shared tier.
type Tiered struct {
	memory   *MemoryTier
	disk     Tier
	shared   Tier
	promote  bool
	counters *metrics.Counters
	logger   zerolog.Logger
}

// NewTiered creates the orchestrator. counters may be nil.
func NewTiered(cfg TieredConfig, counters *metrics.Counters, logger zerolog.Logger) (*Tiered, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory tier is required")
	}
	if counters == nil {
		counters = &metrics.Counters{}
	}
	return &Tiered{
		memory:   cfg.Memory,
		disk:     cfg.Disk,
		shared:   cfg.Shared,
		promote:  !cfg.DisablePromotion,
		counters: counters,
		logger:   logger.With().Str("component", "TieredCache").Logger(),
	}, nil
}

// Memory is the synchronous memory-only peek.
func (t *Tiered) Memory(key media.CacheKey) ([]byte, bool) {
	return t.memory.Load(key)
}

// Lookup returns the first hit walking down the tiers. A failing lower tier is
// logged and treated as a miss.
func (t *Tiered) Lookup(ctx context.Context, key media.CacheKey) ([]byte, Level, bool) {
	if value, ok := t.memory.Load(key); ok {
		t.counters.MemoryHits.Add(1)
		return value, LevelMemory, true
	}

	if value, ok := t.lookupTier(ctx, t.disk, LevelDisk, key); ok {
		t.counters.DiskHits.Add(1)
		if t.promote {
			_ = t.memory.Set(ctx, key, value)
		}
		return value, LevelDisk, true
	}

	if value, ok := t.lookupTier(ctx, t.shared, LevelShared, key); ok {
		t.counters.SharedHits.Add(1)
		if t.promote {
			_ = t.memory.Set(ctx, key, value)
			if t.disk != nil {
				if err := t.disk.Set(ctx, key, value); err != nil {
					t.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to promote shared hit to disk.")
				}
			}
		}
		return value, LevelShared, true
	}

	t.counters.Misses.Add(1)
	return nil, LevelNone, false
}

func (t *Tiered) lookupTier(ctx context.Context, tier Tier, level Level, key media.CacheKey) ([]byte, bool) {
	if tier == nil {
		return nil, false
	}
	value, ok, err := tier.Get(ctx, key)
	if err != nil {
		t.logger.Warn().Err(err).Str("tier", level.String()).Str("key", key.String()).Msg("Cache tier read failed, treating as miss.")
		return nil, false
	}
	return value, ok
}

// Store writes value to every configured tier. The memory write always lands;
// lower-tier failures are joined into the returned error.
func (t *Tiered) Store(ctx context.Context, key media.CacheKey, value []byte) error {
	_ = t.memory.Set(ctx, key, value)

	var errs []error
	for _, tier := range []Tier{t.disk, t.shared} {
		if tier == nil {
			continue
		}
		if err := tier.Set(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes key from every tier.
func (t *Tiered) Delete(ctx context.Context, key media.CacheKey) error {
	var errs []error
	for _, tier := range t.tiers() {
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear empties every tier.
func (t *Tiered) Clear(ctx context.Context) error {
	var errs []error
	for _, tier := range t.tiers() {
		if err := tier.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.logger.Info().Msg("Cache cleared.")
	return errors.Join(errs...)
}

// Stats reports per-tier contents for tiers that support it, keyed by level name.
func (t *Tiered) Stats(ctx context.Context) (map[string]TierStats, error) {
	out := make(map[string]TierStats)
	levels := []Level{LevelMemory, LevelDisk, LevelShared}
	var errs []error
	for i, tier := range []Tier{t.memory, t.disk, t.shared} {
		reporter, ok := tier.(StatsReporter)
		if !ok || tier == nil {
			continue
		}
		stats, err := reporter.Stats(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[levels[i].String()] = stats
	}
	return out, errors.Join(errs...)
}

// Close closes the disk and shared tiers.
func (t *Tiered) Close() error {
	var errs []error
	for _, tier := range t.tiers() {
		if err := tier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) tiers() []Tier {
	out := []Tier{t.memory}
	if t.disk != nil {
		out = append(out, t.disk)
	}
	if t.shared != nil {
		out = append(out, t.shared)
	}
	return out
}
