package contentsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FS serves file:///path locators from an afero filesystem. Thumbnails are
// sibling files named by ThumbnailObjectName.
type FS struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// NewFS creates a filesystem content source. A nil fs means the OS filesystem.
func NewFS(fsys afero.Fs, logger zerolog.Logger) *FS {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FS{
		fs:     fsys,
		logger: logger.With().Str("component", "FSContentSource").Logger(),
	}
}

// FetchContent reads the file named by locator.
func (f *FS) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	p, err := filePath(locator)
	if err != nil {
		return nil, err
	}
	return f.read(ctx, p)
}

// FetchThumbnail reads the pre-rendered thumbnail file for locator.
func (f *FS) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	p, err := filePath(locator)
	if err != nil {
		return nil, err
	}
	return f.read(ctx, ThumbnailObjectName(p, width, height))
}

func (f *FS) read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s: %w: %w", p, ErrNotFound, err)
		}
		f.logger.Error().Err(err).Str("path", p).Msg("Failed to read file.")
		return nil, fmt.Errorf("file %s: %w", p, err)
	}
	f.logger.Debug().Str("path", p).Int("bytes", len(data)).Msg("Read file.")
	return data, nil
}

func filePath(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parsing locator %q: %w", locator, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", fmt.Errorf("locator %q is not a file:// locator: %w", locator, ErrUnsupportedScheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("locator %q has no path", locator)
	}
	return path.Clean(u.Path), nil
}
