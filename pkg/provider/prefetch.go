package provider

import (
	"context"
	"sync/atomic"

	"github.com/illmade-knight/go-mediacache/pkg/media"
	"golang.org/x/sync/errgroup"
)

// Prefetch warms the cache for sources at size with bounded parallelism. Each
// source gets a single attempt; nothing waits for reachability. It returns how
// many entries are now cached and the first error encountered.
func (p *Provider) Prefetch(ctx context.Context, sources []media.Source, size *media.Size) (int, error) {
	var warmed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.PrefetchConcurrency)

	for _, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			load := loadSpec{src: src, size: size, validate: true, failure: media.ErrFailedRetrievingImage}
			if _, err := p.attempt(ctx, load, p.requestLogger(load)); err != nil {
				return err
			}
			warmed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info().Int("requested", len(sources)).Int64("warmed", warmed.Load()).Msg("Prefetch finished.")
	return int(warmed.Load()), err
}
