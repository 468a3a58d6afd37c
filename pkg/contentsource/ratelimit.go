package contentsource

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client so that fetches draw from a token bucket.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond fetches with the given burst. A non-positive
// perSecond disables limiting.
func NewRateLimited(next Client, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// FetchContent implements Client.
func (r *RateLimited) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.FetchContent(ctx, locator)
}

// FetchThumbnail implements Client.
func (r *RateLimited) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.FetchThumbnail(ctx, locator, width, height)
}
