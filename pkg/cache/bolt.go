package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const mediaBucketName = "media"

// ErrTierClosed is returned by a BoltTier used before Open or after Close.
var ErrTierClosed = errors.New("cache tier is closed")

// BoltConfig locates the disk tier's database file.
type BoltConfig struct {
	Path        string
	OpenTimeout time.Duration
}

// BoltTier is the persistent disk tier, a single bbolt bucket of raw bytes.
type BoltTier struct {
	cfg    BoltConfig
	logger zerolog.Logger

	mu sync.RWMutex
	db *bolt.DB
}

// NewBoltTier creates a disk tier. It is unusable until Open is called.
func NewBoltTier(cfg BoltConfig, logger zerolog.Logger) (*BoltTier, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("disk tier path is required")
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	return &BoltTier{
		cfg:    cfg,
		logger: logger.With().Str("component", "BoltTier").Str("path", cfg.Path).Logger(),
	}, nil
}

// OpenBoltTier is NewBoltTier followed by Open.
func OpenBoltTier(cfg BoltConfig, logger zerolog.Logger) (*BoltTier, error) {
	t, err := NewBoltTier(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := t.Open(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open creates the database file and its bucket if needed. Opening an open tier is a no-op.
func (t *BoltTier) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create disk tier directory: %w", err)
	}
	db, err := bolt.Open(t.cfg.Path, 0o600, &bolt.Options{Timeout: t.cfg.OpenTimeout})
	if err != nil {
		return fmt.Errorf("failed to open disk tier database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(mediaBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create disk tier bucket: %w", err)
	}

	t.db = db
	t.logger.Info().Msg("Disk tier opened.")
	return nil
}

// Get implements Tier. The returned slice is a copy and outlives the transaction.
func (t *BoltTier) Get(ctx context.Context, key media.CacheKey) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return nil, false, ErrTierClosed
	}

	var value []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mediaBucketName))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from disk tier: %w", key, err)
	}
	return value, value != nil, nil
}

// Set implements Tier.
func (t *BoltTier) Set(ctx context.Context, key media.CacheKey, value []byte) error {
	return t.update(ctx, func(b *bolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
}

// Delete implements Tier.
func (t *BoltTier) Delete(ctx context.Context, key media.CacheKey) error {
	return t.update(ctx, func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// Clear drops and recreates the bucket.
func (t *BoltTier) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return ErrTierClosed
	}
	err := t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(mediaBucketName)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(mediaBucketName))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear disk tier: %w", err)
	}
	t.logger.Info().Msg("Disk tier cleared.")
	return nil
}

// Stats implements StatsReporter.
func (t *BoltTier) Stats(ctx context.Context) (TierStats, error) {
	if err := ctx.Err(); err != nil {
		return TierStats{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return TierStats{}, ErrTierClosed
	}

	var stats TierStats
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(mediaBucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			stats.Entries++
			stats.Bytes += int64(len(v))
			return nil
		})
	})
	if err != nil {
		return TierStats{}, fmt.Errorf("failed to read disk tier stats: %w", err)
	}
	return stats, nil
}

// Close closes the database. The tier can be reopened with Open.
func (t *BoltTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	t.logger.Info().Msg("Disk tier closed.")
	return err
}

func (t *BoltTier) update(ctx context.Context, fn func(b *bolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.db == nil {
		return ErrTierClosed
	}
	err := t.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(mediaBucketName))
		if err != nil {
			return err
		}
		return fn(b)
	})
	if err != nil {
		return fmt.Errorf("disk tier update failed: %w", err)
	}
	return nil
}
