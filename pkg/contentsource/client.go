// Package contentsource holds the adapters that fetch raw media bytes from remote
// stores. The loader treats every adapter as an opaque Client.
package contentsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/illmade-knight/go-mediacache/pkg/media"
)

// ErrNotFound is returned (wrapped) when a locator names no content.
var ErrNotFound = media.ErrContentNotFound

// ErrUnsupportedScheme is returned by a Router that has no client for a locator's scheme.
var ErrUnsupportedScheme = errors.New("unsupported locator scheme")

// ErrObjectTooLarge is returned (wrapped) when an object exceeds the adapter's
// MaxObjectBytes. Partial bytes are never returned.
var ErrObjectTooLarge = errors.New("object exceeds maximum size")

// Client fetches the full content, or a thumbnail, for a locator.
type Client interface {
	FetchContent(ctx context.Context, locator string) ([]byte, error)
	FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error)
}

// ThumbnailObjectName is the object name under which pre-rendered thumbnails
// are stored next to the original in bucket-style stores.
func ThumbnailObjectName(object string, width, height uint) string {
	return fmt.Sprintf("%s@%dx%d", object, width, height)
}

// splitBucketLocator splits "scheme://bucket/object/path" into bucket and object.
func splitBucketLocator(locator, scheme string) (bucket, object string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parsing locator %q: %w", locator, err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return "", "", fmt.Errorf("locator %q is not a %s:// locator: %w", locator, scheme, ErrUnsupportedScheme)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("locator %q must be %s://bucket/object", locator, scheme)
	}
	return u.Host, object, nil
}

// readAll reads r to the end. With maxBytes > 0 it reads at most one byte past
// the cap so an oversized object fails instead of coming back cut short.
func readAll(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrObjectTooLarge, maxBytes)
	}
	return data, nil
}
