package contentsource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/illmade-knight/go-mediacache/pkg/media"
)

// Router dispatches each locator to the Client registered for its scheme.
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]Client)}
}

// Register adds (or replaces) the client serving a scheme.
func (r *Router) Register(scheme string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[strings.ToLower(scheme)] = client
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.clients))
	for s := range r.clients {
		schemes = append(schemes, s)
	}
	return schemes
}

func (r *Router) clientFor(locator string) (Client, error) {
	scheme := media.Source{Locator: locator}.Scheme()
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[scheme]
	if !ok {
		return nil, fmt.Errorf("no content source for %q: %w", scheme, ErrUnsupportedScheme)
	}
	return c, nil
}

// FetchContent implements Client.
func (r *Router) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	c, err := r.clientFor(locator)
	if err != nil {
		return nil, err
	}
	return c.FetchContent(ctx, locator)
}

// FetchThumbnail implements Client.
func (r *Router) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	c, err := r.clientFor(locator)
	if err != nil {
		return nil, err
	}
	return c.FetchThumbnail(ctx, locator, width, height)
}
