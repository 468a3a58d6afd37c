package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/spf13/afero"
)

// LoadFile fetches the full content of src through the cache and writes it to
// filename inside the configured file directory. The write is atomic: readers
// never see a partial file.
//
// Retrieval failures wrap media.ErrFailedRetrievingFile.
func (p *Provider) LoadFile(ctx context.Context, src media.Source, filename string) (media.File, error) {
	if p.cfg.FileDir == "" {
		return media.File{}, fmt.Errorf("%w: no file directory configured", media.ErrFailedRetrievingFile)
	}

	data, err := p.withRetry(ctx, loadSpec{src: src, failure: media.ErrFailedRetrievingFile})
	if err != nil {
		return media.File{}, err
	}

	if err := p.fs.MkdirAll(p.cfg.FileDir, 0o755); err != nil {
		return media.File{}, fmt.Errorf("%w: creating file directory: %w", media.ErrFailedRetrievingFile, err)
	}
	path := filepath.Join(p.cfg.FileDir, safeFilename(filename))
	tmp := filepath.Join(p.cfg.FileDir, "."+uuid.NewString()+".tmp")

	if err := afero.WriteFile(p.fs, tmp, data, 0o644); err != nil {
		return media.File{}, fmt.Errorf("%w: writing %s: %w", media.ErrFailedRetrievingFile, tmp, err)
	}
	if err := p.fs.Rename(tmp, path); err != nil {
		_ = p.fs.Remove(tmp)
		return media.File{}, fmt.Errorf("%w: renaming into %s: %w", media.ErrFailedRetrievingFile, path, err)
	}

	p.logger.Debug().Str("locator", src.Locator).Str("path", path).Int("bytes", len(data)).Msg("File written.")
	return media.File{Path: path, MimeType: src.MimeType, Size: int64(len(data))}, nil
}

// safeFilename keeps only the final path element so callers cannot escape the directory.
func safeFilename(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return uuid.NewString()
	}
	return base
}
