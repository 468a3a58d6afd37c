// Package loader coalesces concurrent requests for identical media into a single
// fetch against the content source.
//
// The loader is not a cache: once a fetch completes its entry is dropped, so a
// later call for the same key fetches again. Only overlapping calls share work.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/contentsource"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/illmade-knight/go-mediacache/pkg/metrics"
	"github.com/rs/zerolog"
)

// Loader deduplicates concurrent LoadContent and LoadThumbnail calls.
type Loader struct {
	client   contentsource.Client
	recorder *metrics.Recorder
	logger   zerolog.Logger

	mu       sync.Mutex
	inflight map[media.CacheKey]*call
}

// call is one outstanding fetch. val and err are written once, before done is
// closed, and only read after.
type call struct {
	done    chan struct{}
	val     []byte
	err     error
	waiters int
	cancel  context.CancelFunc
}

// New creates a Loader in front of client. recorder may be nil.
func New(client contentsource.Client, recorder *metrics.Recorder, logger zerolog.Logger) *Loader {
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Loader{
		client:   client,
		recorder: recorder,
		logger:   logger.With().Str("component", "MediaLoader").Logger(),
		inflight: make(map[media.CacheKey]*call),
	}
}

// LoadContent returns the full content for src. The returned slice is shared
// with every coalesced caller and must be treated as read-only.
func (l *Loader) LoadContent(ctx context.Context, src media.Source) ([]byte, error) {
	return l.load(ctx, src, nil)
}

// LoadThumbnail returns a width x height thumbnail for src. The returned slice
// is shared with every coalesced caller and must be treated as read-only.
func (l *Loader) LoadThumbnail(ctx context.Context, src media.Source, width, height uint) ([]byte, error) {
	return l.load(ctx, src, media.NewSize(width, height))
}

// InFlight reports how many distinct fetches are currently running.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

func (l *Loader) load(ctx context.Context, src media.Source, size *media.Size) ([]byte, error) {
	key := media.KeyFor(src, size)

	l.mu.Lock()
	c, joined := l.inflight[key]
	if joined {
		c.waiters++
		l.mu.Unlock()
		l.recorder.Counters.Coalesced.Add(1)
		l.logger.Debug().Str("key", key.String()).Msg("Joined in-flight fetch.")
		return l.wait(ctx, key, c)
	}

	// The fetch outlives any single caller; it is cancelled only when every waiter has gone.
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c = &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
	l.inflight[key] = c
	l.mu.Unlock()

	go l.fetch(fetchCtx, key, src, size, c)
	return l.wait(ctx, key, c)
}

func (l *Loader) fetch(ctx context.Context, key media.CacheKey, src media.Source, size *media.Size, c *call) {
	defer c.cancel()

	var (
		data []byte
		err  error
	)
	start := time.Now()
	l.recorder.Counters.Fetches.Add(1)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("content source panicked: %v", r)
			}
		}()
		if size == nil {
			data, err = l.client.FetchContent(ctx, src.Locator)
			l.recorder.Latency.Since(metrics.OpFetchContent, start)
		} else {
			data, err = l.client.FetchThumbnail(ctx, src.Locator, size.Width, size.Height)
			l.recorder.Latency.Since(metrics.OpFetchThumbnail, start)
		}
	}()

	if err != nil {
		l.logger.Warn().Err(err).Str("key", key.String()).Msg("Content fetch failed.")
		err = &media.ContentFetchError{Key: key, Err: err}
	} else {
		l.logger.Debug().Str("key", key.String()).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("Content fetched.")
	}

	// Publish and unregister in one critical section so no caller can join a finished call.
	l.mu.Lock()
	c.val, c.err = data, err
	if l.inflight[key] == c {
		delete(l.inflight, key)
	}
	close(c.done)
	l.mu.Unlock()
}

func (l *Loader) wait(ctx context.Context, key media.CacheKey, c *call) ([]byte, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-c.done:
		l.mu.Unlock()
		return c.val, c.err
	default:
	}
	c.waiters--
	abandoned := c.waiters == 0
	if abandoned && l.inflight[key] == c {
		delete(l.inflight, key)
	}
	l.mu.Unlock()

	if abandoned {
		l.logger.Debug().Str("key", key.String()).Msg("All waiters left, cancelling fetch.")
		c.cancel()
	}
	return nil, ctx.Err()
}
