// Package cache holds the media cache tiers and the orchestrator that layers them.
package cache

import (
	"context"

	"github.com/illmade-knight/go-mediacache/pkg/media"
)

// Tier is one layer of byte storage keyed by media.CacheKey.
type Tier interface {
	// Get returns the stored value. A miss is (nil, false, nil), never an error.
	Get(ctx context.Context, key media.CacheKey) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key media.CacheKey, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key media.CacheKey) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// Close releases the tier's resources.
	Close() error
}

// TierStats describes the contents of a tier.
type TierStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// StatsReporter is implemented by tiers that can describe their contents cheaply.
type StatsReporter interface {
	Stats(ctx context.Context) (TierStats, error)
}
