package microservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/illmade-knight/go-mediacache/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResolver is a test double for microservice.Resolver.
type mockResolver struct {
	calls         atomic.Int32
	fallbackCalls atomic.Int32
	ResolveFunc   func(ctx context.Context, src media.Source, size *media.Size) ([]byte, error)
}

func (m *mockResolver) Resolve(ctx context.Context, src media.Source, size *media.Size) ([]byte, error) {
	m.calls.Add(1)
	return m.ResolveFunc(ctx, src, size)
}

func (m *mockResolver) ResolveWithFallback(ctx context.Context, src media.Source, size *media.Size) ([]byte, error) {
	m.fallbackCalls.Add(1)
	return m.ResolveFunc(ctx, src, size)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func newService(t *testing.T, resolver *mockResolver) http.Handler {
	t.Helper()
	stats := func(context.Context) (any, error) {
		return map[string]int{"memoryHits": 3}, nil
	}
	svc := microservice.NewMediaService(microservice.ServerConfig{Addr: ":0"}, resolver, stats, time.Second, zerolog.Nop())
	return svc.Handler()
}

func mediaPath(locator string, query string) string {
	p := "/media/" + url.PathEscape(locator)
	if query != "" {
		p += "?" + query
	}
	return p
}

func TestMediaService_Success(t *testing.T) {
	var gotSize *media.Size
	var gotLocator string
	resolver := &mockResolver{ResolveFunc: func(_ context.Context, src media.Source, size *media.Size) ([]byte, error) {
		gotLocator, gotSize = src.Locator, size
		return pngHeader, nil
	}}
	handler := newService(t, resolver)

	t.Run("Thumbnail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mediaPath("mxc://example.org/abc", "w=96&h=64"), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pngHeader, rec.Body.Bytes())
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "mxc://example.org/abc", gotLocator)
		require.NotNil(t, gotSize)
		assert.Equal(t, media.Size{Width: 96, Height: 64}, *gotSize)
	})

	t.Run("Full content", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mediaPath("gs://bucket/path/to/a.png", ""), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, gotSize)
		assert.Equal(t, "gs://bucket/path/to/a.png", gotLocator)
	})

	t.Run("Fallback flag", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mediaPath("mxc://example.org/abc", "w=1&h=1&fallback=true"), nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int32(1), resolver.fallbackCalls.Load())
	})
}

func TestMediaService_StatusMapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid image", fmt.Errorf("%w: bad header", media.ErrInvalidImageData), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("%w: %w", media.ErrFailedRetrievingImage, &media.ContentFetchError{Key: "k", Err: media.ErrContentNotFound}), http.StatusNotFound},
		{"upstream failure", fmt.Errorf("%w: %w", media.ErrFailedRetrievingImage, &media.ContentFetchError{Key: "k", Err: errors.New("500")}), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &mockResolver{ResolveFunc: func(context.Context, media.Source, *media.Size) ([]byte, error) {
				return nil, tc.err
			}}
			rec := httptest.NewRecorder()
			newService(t, resolver).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mediaPath("mxc://example.org/abc", ""), nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMediaService_BadRequests(t *testing.T) {
	resolver := &mockResolver{ResolveFunc: func(context.Context, media.Source, *media.Size) ([]byte, error) {
		return pngHeader, nil
	}}
	handler := newService(t, resolver)

	for name, path := range map[string]string{
		"no scheme":   mediaPath("not-a-locator", ""),
		"width only":  mediaPath("mxc://example.org/abc", "w=10"),
		"zero height": mediaPath("mxc://example.org/abc", "w=10&h=0"),
		"bad width":   mediaPath("mxc://example.org/abc", "w=ten&h=10"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, int32(0), resolver.calls.Load(), "invalid requests never reach the provider")
}

func TestMediaService_HealthzAndStats(t *testing.T) {
	handler := newService(t, &mockResolver{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body["memoryHits"])
}

func TestMediaService_CORS(t *testing.T) {
	handler := newService(t, &mockResolver{ResolveFunc: func(context.Context, media.Source, *media.Size) ([]byte, error) {
		return pngHeader, nil
	}})
	req := httptest.NewRequest(http.MethodGet, mediaPath("mxc://example.org/abc", ""), nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBaseServer_StartAndShutdown(t *testing.T) {
	server := microservice.NewBaseServer(zerolog.Nop(), microservice.ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, server.Start())

	resp, err := http.Get("http://127.0.0.1" + server.GetHTTPPort() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}
