// Package microservice exposes media resolution over HTTP.
package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/rs/zerolog"
)

// Resolver is the part of the media provider the HTTP layer needs.
type Resolver interface {
	Resolve(ctx context.Context, src media.Source, size *media.Size) ([]byte, error)
	ResolveWithFallback(ctx context.Context, src media.Source, size *media.Size) ([]byte, error)
}

// StatsFunc returns a JSON-encodable snapshot for the /stats route.
type StatsFunc func(ctx context.Context) (any, error)

// MediaService serves GET /media/{locator} and GET /stats on a BaseServer.
type MediaService struct {
	*BaseServer
	resolver       Resolver
	stats          StatsFunc
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewMediaService registers the media routes on a new BaseServer.
// requestTimeout bounds a single resolve; zero means no bound. stats may be nil.
func NewMediaService(cfg ServerConfig, resolver Resolver, stats StatsFunc, requestTimeout time.Duration, logger zerolog.Logger) *MediaService {
	s := &MediaService{
		BaseServer:     NewBaseServer(logger, cfg),
		resolver:       resolver,
		stats:          stats,
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("component", "MediaService").Logger(),
	}
	s.Router().HandleFunc("/media/{locator}", s.handleMedia).Methods(http.MethodGet, http.MethodHead)
	if stats != nil {
		s.Router().HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	return s
}

func (s *MediaService) handleMedia(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(mux.Vars(r)["locator"])
	if err != nil {
		http.Error(w, "malformed locator escaping", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	src, err := media.ParseSource(raw, query.Get("mime"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size, err := parseSize(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	resolve := s.resolver.Resolve
	if fallback, _ := strconv.ParseBool(query.Get("fallback")); fallback {
		resolve = s.resolver.ResolveWithFallback
	}
	data, err := resolve(ctx, src, size)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("locator", src.Locator).Int("status", status).Msg("Media request failed.")
		}
		text := http.StatusText(status)
		if text == "" {
			text = "request cancelled"
		}
		http.Error(w, text, status)
		return
	}

	contentType := src.MimeType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

func (s *MediaService) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.stats(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Stats are partial.")
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode stats.")
	}
}

// parseSize reads the optional w and h query parameters. Both or neither must be given.
func parseSize(query url.Values) (*media.Size, error) {
	ws, hs := query.Get("w"), query.Get("h")
	if ws == "" && hs == "" {
		return nil, nil
	}
	if ws == "" || hs == "" {
		return nil, errors.New("both w and h are required for a thumbnail")
	}
	width, err := strconv.ParseUint(ws, 10, 32)
	if err != nil || width == 0 {
		return nil, errors.New("w must be a positive integer")
	}
	height, err := strconv.ParseUint(hs, 10, 32)
	if err != nil || height == 0 {
		return nil, errors.New("h must be a positive integer")
	}
	return media.NewSize(uint(width), uint(height)), nil
}

func statusFor(err error) int {
	var fetchErr *media.ContentFetchError
	switch {
	case errors.Is(err, media.ErrInvalidImageData):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr) && fetchErr.NotFound():
		return http.StatusNotFound
	case errors.Is(err, media.ErrFailedRetrievingImage):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
