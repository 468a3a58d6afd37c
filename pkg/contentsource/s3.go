package contentsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3API is the subset of *s3.Client the S3 source uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the client built by NewS3Client.
type S3Config struct {
	Region string
	// Endpoint points the client at an S3 compatible store (MinIO, localstack).
	Endpoint       string
	MaxObjectBytes int64
}

// NewS3Client builds an *s3.Client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3 serves s3://bucket/key locators with the same thumbnail naming as GCS.
type S3 struct {
	api      S3API
	maxBytes int64
	logger   zerolog.Logger
}

// NewS3 creates an S3 content source.
func NewS3(api S3API, cfg S3Config, logger zerolog.Logger) (*S3, error) {
	if api == nil {
		return nil, errors.New("S3 client cannot be nil")
	}
	return &S3{
		api:      api,
		maxBytes: cfg.MaxObjectBytes,
		logger:   logger.With().Str("component", "S3ContentSource").Logger(),
	}, nil
}

// FetchContent reads the whole object named by locator.
func (s *S3) FetchContent(ctx context.Context, locator string) ([]byte, error) {
	bucket, key, err := splitBucketLocator(locator, "s3")
	if err != nil {
		return nil, err
	}
	return s.read(ctx, bucket, key)
}

// FetchThumbnail reads the pre-rendered thumbnail object for locator.
func (s *S3) FetchThumbnail(ctx context.Context, locator string, width, height uint) ([]byte, error) {
	bucket, key, err := splitBucketLocator(locator, "s3")
	if err != nil {
		return nil, err
	}
	return s.read(ctx, bucket, ThumbnailObjectName(key, width, height))
}

func (s *S3) read(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			s.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("Object not found.")
			return nil, fmt.Errorf("s3 object %s/%s: %w: %w", bucket, key, ErrNotFound, err)
		}
		s.logger.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to get object.")
		return nil, fmt.Errorf("s3 object %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := readAll(out.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, ErrObjectTooLarge) {
			s.logger.Warn().Str("bucket", bucket).Str("key", key).Int64("max_bytes", s.maxBytes).Msg("Object too large.")
		}
		return nil, fmt.Errorf("reading s3 object %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("Fetched object.")
	return data, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
