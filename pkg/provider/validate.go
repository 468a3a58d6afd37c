package provider

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/illmade-knight/go-mediacache/pkg/media"
)

// validateImage checks that data carries a decodable image header.
func validateImage(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", media.ErrInvalidImageData)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %w", media.ErrInvalidImageData, err)
	}
	return nil
}
