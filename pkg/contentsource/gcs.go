package contentsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ====================================================================================
// The GCS source reads objects through a small set of interfaces so it can be
// tested without a real Google Cloud Storage client.
// ====================================================================================

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a concrete *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

// GCSConfig configures the storage client used by NewGCSStorageClient.
type GCSConfig struct {
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for the fake-gcs-server emulator.
	Endpoint string
	// MaxObjectBytes rejects objects larger than this many bytes. Zero means unlimited.
	MaxObjectBytes int64
}

// NewGCSStorageClient creates a *storage.Client from cfg.
func NewGCSStorageClient(ctx context.Context, cfg GCSConfig) (*storage.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

// GCS serves gs://bucket/object locators. Thumbnails are pre-rendered objects
// named by ThumbnailObjectName.
type GCS struct {
	client   GCSClient
	maxBytes int64
	logger   zerolog.Logger
}

// NewGCS creates a GCS content source.
func NewGCS(client GCSClient, cfg GCSConfig, logger zerolog.Logger) (*GCS, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	return &GCS{
		client:   client,
		maxBytes: cfg.MaxObjectBytes,
		logger:   logger.With().Str("component", "GCSContentSource").Logger(),
	}, nil
}

// FetchContent reads the whole object named by locator.
func (g *GCS) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	bucket, object, err := splitBucketLocator(locator, "gs")
	if err != nil {
		return nil, err
	}
	return g.read(ctx, bucket, object)
}

// FetchThumbnail reads the pre-rendered thumbnail object for locator.
func (g *GCS) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	bucket, object, err := splitBucketLocator(locator, "gs")
	if err != nil {
		return nil, err
	}
	return g.read(ctx, bucket, ThumbnailObjectName(object, width, height))
}

func (g *GCS) read(ctx context.Context, bucket, object string) ([]byte, error) {
	reader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			g.logger.Debug().Str("bucket", bucket).Str("object", object).Msg("Object not found.")
			return nil, fmt.Errorf("gcs object %s/%s: %w: %w", bucket, object, ErrNotFound, err)
		}
		g.logger.Error().Err(err).Str("bucket", bucket).Str("object", object).Msg("Failed to open object reader.")
		return nil, fmt.Errorf("gcs object %s/%s: %w", bucket, object, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := readAll(reader, g.maxBytes)
	if err != nil {
		if errors.Is(err, ErrObjectTooLarge) {
			g.logger.Warn().Str("bucket", bucket).Str("object", object).Int64("max_bytes", g.maxBytes).Msg("Object too large.")
		}
		return nil, fmt.Errorf("reading gcs object %s/%s: %w", bucket, object, err)
	}
	g.logger.Debug().Str("bucket", bucket).Str("object", object).Int("bytes", len(data)).Msg("Fetched object.")
	return data, nil
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return true
	}
	return status.Code(err) == codes.NotFound
}
