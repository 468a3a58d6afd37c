package media

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is the target dimension of a thumbnail request.
// A nil *Size means the full content is wanted.
type Size struct {
	Width  uint
	Height uint
}

// NewSize returns a pointer to a Size, which is the form the loader and provider accept.
func NewSize(width, height uint) *Size {
	return &Size{Width: width, Height: height}
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// CacheKey names an entry in every cache tier and in the loader's in-flight registry.
type CacheKey string

// KeyFor derives the key for a source at an optional size.
// Full content uses the bare locator; thumbnails append "{W,H}".
func KeyFor(src Source, size *Size) CacheKey {
	if size == nil {
		return CacheKey(src.Locator)
	}
	var b strings.Builder
	b.Grow(len(src.Locator) + 24)
	b.WriteString(src.Locator)
	b.WriteByte('{')
	b.WriteString(strconv.FormatUint(uint64(size.Width), 10))
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(uint64(size.Height), 10))
	b.WriteByte('}')
	return CacheKey(b.String())
}

func (k CacheKey) String() string {
	return string(k)
}
