package contentsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MatrixConfig configures the homeserver media source.
type MatrixConfig struct {
	// HomeserverURL is the client-server API base, e.g. "https://matrix.org".
	HomeserverURL string
	AccessToken   string
	Timeout       time.Duration
	// ThumbnailMethod is "scale" or "crop".
	ThumbnailMethod string
	MaxObjectBytes  int64
}

// Matrix serves mxc://server/mediaId locators from a homeserver's
// authenticated media endpoints.
type Matrix struct {
	baseURL  *url.URL
	token    string
	method   string
	maxBytes int64
	client   *http.Client
	logger   zerolog.Logger
}

// NewMatrix creates a homeserver content source.
func NewMatrix(cfg MatrixConfig, logger zerolog.Logger) (*Matrix, error) {
	if cfg.HomeserverURL == "" {
		return nil, errors.New("homeserver URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.HomeserverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid homeserver URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	method := cfg.ThumbnailMethod
	if method == "" {
		method = "scale"
	}
	return &Matrix{
		baseURL:  base,
		token:    cfg.AccessToken,
		method:   method,
		maxBytes: cfg.MaxObjectBytes,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "MatrixContentSource").Logger(),
	}, nil
}

// FetchContent downloads the full media for an mxc:// locator.
func (m *Matrix) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	server, mediaID, err := splitMXC(locator)
	if err != nil {
		return nil, err
	}
	u := m.baseURL.JoinPath("_matrix", "client", "v1", "media", "download", server, mediaID)
	return m.get(ctx, u)
}

// FetchThumbnail asks the homeserver for a thumbnail of the given dimensions.
func (m *Matrix) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	server, mediaID, err := splitMXC(locator)
	if err != nil {
		return nil, err
	}
	u := m.baseURL.JoinPath("_matrix", "client", "v1", "media", "thumbnail", server, mediaID)
	q := u.Query()
	q.Set("width", strconv.FormatUint(uint64(width), 10))
	q.Set("height", strconv.FormatUint(uint64(height), 10))
	q.Set("method", m.method)
	u.RawQuery = q.Encode()
	return m.get(ctx, u)
}

func (m *Matrix) get(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building media request: %w", err)
	}
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", u.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("media %s: %w", u.Path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		m.logger.Warn().Int("status", resp.StatusCode).Str("path", u.Path).Msg("Unexpected homeserver response.")
		return nil, fmt.Errorf("media %s: unexpected status %d", u.Path, resp.StatusCode)
	}

	data, err := readAll(resp.Body, m.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading media %s: %w", u.Path, err)
	}
	return data, nil
}

func splitMXC(locator string) (server, mediaID string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parsing locator %q: %w", locator, err)
	}
	if !strings.EqualFold(u.Scheme, "mxc") {
		return "", "", fmt.Errorf("locator %q is not an mxc:// locator: %w", locator, ErrUnsupportedScheme)
	}
	mediaID = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || mediaID == "" || strings.Contains(mediaID, "/") {
		return "", "", fmt.Errorf("locator %q must be mxc://server/mediaId", locator)
	}
	return u.Host, mediaID, nil
}
