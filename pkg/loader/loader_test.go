package loader_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/loader"
	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/illmade-knight/go-mediacache/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a test double for contentsource.Client.
type mockClient struct {
	contentCalls   atomic.Int32
	thumbnailCalls atomic.Int32
	FetchFunc      func(ctx context.Context, locator string, size *media.Size) ([]byte, error)
}

func (m *mockClient) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	m.contentCalls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, locator, nil)
	}
	return []byte("content:" + locator), nil
}

func (m *mockClient) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	m.thumbnailCalls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, locator, media.NewSize(width, height))
	}
	return []byte("thumbnail:" + locator), nil
}

func (m *mockClient) total() int32 {
	return m.contentCalls.Load() + m.thumbnailCalls.Load()
}

// blockingFetch returns a FetchFunc that waits for release before answering.
func blockingFetch(release <-chan struct{}) func(ctx context.Context, locator string, size *media.Size) ([]byte, error) {
	return func(ctx context.Context, locator string, size *media.Size) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if size != nil {
			return []byte("thumbnail:" + locator), nil
		}
		return []byte("content:" + locator), nil
	}
}

func newTestLoader(client *mockClient) (*loader.Loader, *metrics.Recorder) {
	recorder := metrics.NewRecorder()
	return loader.New(client, recorder, zerolog.Nop()), recorder
}

var testSource = media.MustParseSource("mxc://example.org/media")

func TestLoader_ConcurrentRequestsAreCoalesced(t *testing.T) {
	// Arrange
	const callers = 20
	release := make(chan struct{})
	client := &mockClient{FetchFunc: blockingFetch(release)}
	l, recorder := newTestLoader(client)
	ctx := context.Background()

	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup

	// Act
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.LoadContent(ctx, testSource)
		}(i)
	}
	require.Eventually(t, func() bool {
		return recorder.Counters.Coalesced.Load() == callers-1
	}, time.Second, 5*time.Millisecond, "all callers should join the single fetch")
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), client.contentCalls.Load(), "content source should be called exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("content:mxc://example.org/media"), results[i])
	}
	assert.Equal(t, 0, l.InFlight())
}

func TestLoader_SequentialRequestsAreNotCached(t *testing.T) {
	ctx := context.Background()

	t.Run("Content", func(t *testing.T) {
		client := &mockClient{}
		l, _ := newTestLoader(client)
		for i := 1; i <= 10; i++ {
			_, err := l.LoadContent(ctx, testSource)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(10), client.contentCalls.Load())
	})

	t.Run("Thumbnail", func(t *testing.T) {
		client := &mockClient{}
		l, _ := newTestLoader(client)
		for i := 1; i <= 10; i++ {
			_, err := l.LoadThumbnail(ctx, testSource, 100, 100)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(10), client.thumbnailCalls.Load())
	})
}

func TestLoader_ThumbnailAndContentAreDistinctEntries(t *testing.T) {
	// Arrange
	const perKind = 5
	release := make(chan struct{})
	client := &mockClient{FetchFunc: blockingFetch(release)}
	l, recorder := newTestLoader(client)
	ctx := context.Background()

	var wg sync.WaitGroup
	var contentResults, thumbResults sync.Map

	// Act
	for i := 0; i < perKind; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			data, err := l.LoadContent(ctx, testSource)
			assert.NoError(t, err)
			contentResults.Store(i, string(data))
		}(i)
		go func(i int) {
			defer wg.Done()
			data, err := l.LoadThumbnail(ctx, testSource, 100, 100)
			assert.NoError(t, err)
			thumbResults.Store(i, string(data))
		}(i)
	}
	require.Eventually(t, func() bool {
		return recorder.Counters.Coalesced.Load() == 2*(perKind-1)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, l.InFlight())
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), client.contentCalls.Load())
	assert.Equal(t, int32(1), client.thumbnailCalls.Load())
	contentResults.Range(func(_, v any) bool {
		assert.Equal(t, "content:mxc://example.org/media", v)
		return true
	})
	thumbResults.Range(func(_, v any) bool {
		assert.Equal(t, "thumbnail:mxc://example.org/media", v)
		return true
	})
}

func TestLoader_FailureIsSharedByAllWaiters(t *testing.T) {
	// Arrange
	const callers = 4
	sourceErr := errors.New("server error")
	release := make(chan struct{})
	client := &mockClient{FetchFunc: func(ctx context.Context, _ string, _ *media.Size) ([]byte, error) {
		<-release
		return nil, sourceErr
	}}
	l, recorder := newTestLoader(client)

	errs := make([]error, callers)
	var wg sync.WaitGroup

	// Act
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.LoadContent(context.Background(), testSource)
		}(i)
	}
	require.Eventually(t, func() bool {
		return recorder.Counters.Coalesced.Load() == callers-1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), client.total())
	for i := 0; i < callers; i++ {
		var fetchErr *media.ContentFetchError
		require.True(t, errors.As(errs[i], &fetchErr))
		assert.ErrorIs(t, errs[i], sourceErr)
		assert.Equal(t, media.KeyFor(testSource, nil), fetchErr.Key)
		assert.Same(t, errs[0], errs[i], "every waiter should observe the identical error")
	}
}

func TestLoader_WaiterCancellationKeepsSharedFetch(t *testing.T) {
	// Arrange
	release := make(chan struct{})
	var fetchCancelled atomic.Bool
	client := &mockClient{FetchFunc: func(ctx context.Context, locator string, _ *media.Size) ([]byte, error) {
		select {
		case <-release:
			return []byte("late"), nil
		case <-ctx.Done():
			fetchCancelled.Store(true)
			return nil, ctx.Err()
		}
	}}
	l, recorder := newTestLoader(client)

	impatientCtx, cancelImpatient := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := l.LoadContent(impatientCtx, testSource)
		impatientErr <- err
	}()
	require.Eventually(t, func() bool { return l.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	patientResult := make(chan []byte, 1)
	go func() {
		data, err := l.LoadContent(context.Background(), testSource)
		assert.NoError(t, err)
		patientResult <- data
	}()
	require.Eventually(t, func() bool { return recorder.Counters.Coalesced.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	cancelImpatient()
	err := <-impatientErr
	close(release)

	// Assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []byte("late"), <-patientResult)
	assert.False(t, fetchCancelled.Load(), "shared fetch must not be cancelled while a waiter remains")
	assert.Equal(t, int32(1), client.contentCalls.Load())
}

func TestLoader_LastWaiterLeavingCancelsFetch(t *testing.T) {
	// Arrange
	fetchCancelled := make(chan struct{})
	client := &mockClient{FetchFunc: func(ctx context.Context, _ string, _ *media.Size) ([]byte, error) {
		<-ctx.Done()
		close(fetchCancelled)
		return nil, ctx.Err()
	}}
	l, _ := newTestLoader(client)
	ctx, cancel := context.WithCancel(context.Background())

	// Act
	errCh := make(chan error, 1)
	go func() {
		_, err := l.LoadThumbnail(ctx, testSource, 32, 32)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return l.InFlight() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	// Assert
	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case <-fetchCancelled:
	case <-time.After(time.Second):
		t.Fatal("fetch was not cancelled after the last waiter left")
	}
	assert.Equal(t, 0, l.InFlight())
}

func TestLoader_PanickingSourceFailsWaiters(t *testing.T) {
	client := &mockClient{FetchFunc: func(context.Context, string, *media.Size) ([]byte, error) {
		panic("boom")
	}}
	l, _ := newTestLoader(client)

	_, err := l.LoadContent(context.Background(), testSource)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, l.InFlight())
}

func TestLoader_RecordsLatency(t *testing.T) {
	client := &mockClient{}
	l, recorder := newTestLoader(client)

	_, err := l.LoadContent(context.Background(), testSource)
	require.NoError(t, err)
	_, err = l.LoadThumbnail(context.Background(), testSource, 8, 8)
	require.NoError(t, err)

	contentStats, err := recorder.Latency.GetStats(metrics.OpFetchContent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contentStats.Count)
	thumbStats, err := recorder.Latency.GetStats(metrics.OpFetchThumbnail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), thumbStats.Count)
	assert.Equal(t, int64(2), recorder.Counters.Fetches.Load())
}
