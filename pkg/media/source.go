// Package media defines the identity types shared by the loader, the cache and
// the provider: a Source naming remote content, the Size of a thumbnail and the
// CacheKey derived from both.
package media

import (
	"net/url"
	"strings"
)

// Source identifies a piece of remote content.
// Two sources with the same Locator denote the same content; MimeType is only a hint.
type Source struct {
	Locator  string
	MimeType string
}

// ParseSource builds a Source from a content URI such as "mxc://host/id",
// "gs://bucket/object" or "file:///tmp/a.png".
func ParseSource(uri string, mimeType string) (Source, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return Source{}, &InvalidSourceError{URI: uri, Reason: "empty locator"}
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Source{}, &InvalidSourceError{URI: uri, Reason: "unparseable locator", Err: err}
	}
	if u.Scheme == "" {
		return Source{}, &InvalidSourceError{URI: uri, Reason: "locator has no scheme"}
	}
	if u.Host == "" && u.Path == "" && u.Opaque == "" {
		return Source{}, &InvalidSourceError{URI: uri, Reason: "locator has no content path"}
	}

	return Source{Locator: u.String(), MimeType: mimeType}, nil
}

// MustParseSource is ParseSource for literals known to be valid. It panics on error.
func MustParseSource(uri string) Source {
	src, err := ParseSource(uri, "")
	if err != nil {
		panic(err)
	}
	return src
}

// Equal reports whether s and other denote the same content.
func (s Source) Equal(other Source) bool {
	return s.Locator == other.Locator
}

// Scheme returns the lower-cased URI scheme of the locator.
func (s Source) Scheme() string {
	i := strings.Index(s.Locator, ":")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(s.Locator[:i])
}

func (s Source) String() string {
	return s.Locator
}
