package media

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidImageData means bytes were retrieved but do not decode as an image.
	// Retrying will not help.
	ErrInvalidImageData = errors.New("invalid image data")
	// ErrFailedRetrievingImage means every fetch path for an image, including the
	// reconnection retry, was exhausted.
	ErrFailedRetrievingImage = errors.New("failed retrieving image")
	// ErrFailedRetrievingFile is the file-loading counterpart of ErrFailedRetrievingImage.
	ErrFailedRetrievingFile = errors.New("failed retrieving file")
	// ErrContentNotFound is returned by content sources when the locator names nothing.
	ErrContentNotFound = errors.New("content not found")
)

// InvalidSourceError reports a locator that cannot identify content.
type InvalidSourceError struct {
	URI    string
	Reason string
	Err    error
}

func (e *InvalidSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid media source %q: %s: %v", e.URI, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid media source %q: %s", e.URI, e.Reason)
}

func (e *InvalidSourceError) Unwrap() error { return e.Err }

// ContentFetchError wraps whatever the content source reported for a key.
// Every waiter coalesced onto the same fetch receives the same value.
type ContentFetchError struct {
	Key CacheKey
	Err error
}

func (e *ContentFetchError) Error() string {
	return fmt.Sprintf("fetching content for %s: %v", e.Key, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }

// NotFound reports whether the source said the content does not exist.
func (e *ContentFetchError) NotFound() bool {
	return errors.Is(e.Err, ErrContentNotFound)
}

// File is a piece of content materialised on local disk.
type File struct {
	Path     string
	MimeType string
	Size     int64
}
