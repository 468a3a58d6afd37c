// Package provider is the entry point for media requests. It answers from the
// cache tiers when it can, falls through to the coalescing loader when it
// cannot, and retries once after a lost connection comes back.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mediacache/pkg/cache"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/illmade-knight/go-mediacache/pkg/metrics"
	"github.com/illmade-knight/go-mediacache/pkg/reachability"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// MediaLoader fetches uncached media. *loader.Loader satisfies it.
type MediaLoader interface {
	LoadContent(ctx context.Context, src media.Source) ([]byte, error)
	LoadThumbnail(ctx context.Context, src media.Source, width, height uint) ([]byte, error)
}

// Config tunes a Provider.
type Config struct {
	// RetryWindow bounds how long a failed request waits for reachability to
	// return. Zero waits until the caller's context ends.
	RetryWindow time.Duration
	// FileDir is where LoadFile writes files.
	FileDir string
	// PrefetchConcurrency limits parallel loads in Prefetch. Defaults to 4.
	PrefetchConcurrency int
	// Fs is the filesystem LoadFile writes to. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Provider resolves media through the cache tiers and the loader.
type Provider struct {
	cfg      Config
	tiers    *cache.Tiered
	loader   MediaLoader
	signal   reachability.Signal
	fs       afero.Fs
	recorder *metrics.Recorder
	logger   zerolog.Logger
}

// New creates a Provider. recorder may be nil.
func New(cfg Config, tiers *cache.Tiered, loader MediaLoader, signal reachability.Signal, recorder *metrics.Recorder, logger zerolog.Logger) (*Provider, error) {
	if tiers == nil || loader == nil || signal == nil {
		return nil, fmt.Errorf("provider requires a cache, a loader and a reachability signal")
	}
	if cfg.PrefetchConcurrency <= 0 {
		cfg.PrefetchConcurrency = 4
	}
	if cfg.RetryWindow < 0 {
		return nil, fmt.Errorf("retry window must not be negative")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Provider{
		cfg:      cfg,
		tiers:    tiers,
		loader:   loader,
		signal:   signal,
		fs:       fs,
		recorder: recorder,
		logger:   logger.With().Str("component", "MediaProvider").Logger(),
	}, nil
}

// ImageFromSource returns a memory-tier hit without blocking.
func (p *Provider) ImageFromSource(src media.Source, size *media.Size) ([]byte, bool) {
	return p.tiers.Memory(media.KeyFor(src, size))
}

// Resolve returns validated image bytes for src at size, or the full content
// when size is nil. A load that fails while the network is unreachable is
// retried once when it comes back.
//
// Errors wrap media.ErrFailedRetrievingImage or media.ErrInvalidImageData, or
// are the context's error when ctx ends first. The returned slice may be
// shared with the cache and other callers and must not be modified.
func (p *Provider) Resolve(ctx context.Context, src media.Source, size *media.Size) ([]byte, error) {
	defer p.recorder.Latency.Since(metrics.OpResolve, time.Now())
	return p.withRetry(ctx, loadSpec{src: src, size: size, validate: true, failure: media.ErrFailedRetrievingImage})
}

// ResolveWithFallback asks for the thumbnail first and, if it cannot be
// retrieved, for the full content. Invalid image data is not retried at the
// other size.
func (p *Provider) ResolveWithFallback(ctx context.Context, src media.Source, size *media.Size) ([]byte, error) {
	data, err := p.Resolve(ctx, src, size)
	if err == nil || size == nil || !errors.Is(err, media.ErrFailedRetrievingImage) {
		return data, err
	}
	p.logger.Debug().Err(err).Str("locator", src.Locator).Str("size", size.String()).Msg("Thumbnail unavailable, falling back to full content.")
	return p.Resolve(ctx, src, nil)
}

// loadSpec describes one request: what to load, whether the bytes must be an
// image, and the sentinel a retrieval failure is reported under.
type loadSpec struct {
	src      media.Source
	size     *media.Size
	validate bool
	failure  error
}

func (s loadSpec) key() media.CacheKey {
	return media.KeyFor(s.src, s.size)
}

// attempt is a single pass through the tiers and the loader.
func (p *Provider) attempt(ctx context.Context, load loadSpec, logger zerolog.Logger) ([]byte, error) {
	key := load.key()

	if data, level, ok := p.tiers.Lookup(ctx, key); ok {
		logger.Debug().Str("tier", level.String()).Msg("Cache hit.")
		// LoadFile caches unvalidated content under the same key.
		if load.validate {
			if err := validateImage(data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}

	var (
		data []byte
		err  error
	)
	if load.size == nil {
		data, err = p.loader.LoadContent(ctx, load.src)
	} else {
		data, err = p.loader.LoadThumbnail(ctx, load.src, load.size.Width, load.size.Height)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", load.failure, err)
	}

	if load.validate {
		if err := validateImage(data); err != nil {
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("Retrieved bytes are not an image, not caching.")
			return nil, err
		}
	}

	if err := p.tiers.Store(ctx, key, data); err != nil {
		logger.Warn().Err(err).Msg("Failed to store in every cache tier.")
	}
	return data, nil
}

func (p *Provider) requestLogger(load loadSpec) zerolog.Logger {
	return p.logger.With().
		Str("request_id", uuid.NewString()).
		Str("key", load.key().String()).
		Logger()
}
