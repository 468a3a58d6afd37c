// Package app assembles the media cache from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-mediacache/pkg/cache"
	"github.com/illmade-knight/go-mediacache/pkg/config"
	"github.com/illmade-knight/go-mediacache/pkg/contentsource"
	"github.com/illmade-knight/go-mediacache/pkg/loader"
	"github.com/illmade-knight/go-mediacache/pkg/metrics"
	"github.com/illmade-knight/go-mediacache/pkg/provider"
	"github.com/illmade-knight/go-mediacache/pkg/reachability"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// App is a fully wired media cache.
type App struct {
	Config   *config.Config
	Recorder *metrics.Recorder
	Tiers    *cache.Tiered
	Loader   *loader.Loader
	Provider *provider.Provider
	Signal   reachability.Signal

	closers []func(ctx context.Context) error
	logger  zerolog.Logger
}

// Options replace pieces of the default wiring.
type Options struct {
	// Source replaces the content sources built from configuration.
	Source contentsource.Client
	// Signal replaces the reachability signal built from configuration.
	Signal reachability.Signal
	// Fs replaces the OS filesystem for file sources and LoadFile.
	Fs afero.Fs
}

// New builds an App. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Recorder: metrics.NewRecorder(),
		logger:   logger.With().Str("component", "App").Logger(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if a.Tiers, err = a.buildTiers(ctx, logger); err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		if source, err = a.buildSources(ctx, fs, logger); err != nil {
			return nil, err
		}
	}
	a.Loader = loader.New(source, a.Recorder, logger)

	a.Signal = opts.Signal
	if a.Signal == nil {
		if a.Signal, err = a.buildSignal(ctx, logger); err != nil {
			return nil, err
		}
	}

	a.Provider, err = provider.New(provider.Config{
		RetryWindow:         cfg.Provider.RetryWindow,
		FileDir:             cfg.Provider.FileDir,
		PrefetchConcurrency: cfg.Provider.PrefetchConcurrency,
		Fs:                  fs,
	}, a.Tiers, a.Loader, a.Signal, a.Recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return a, nil
}

func (a *App) buildTiers(ctx context.Context, logger zerolog.Logger) (*cache.Tiered, error) {
	cc := a.Config.Cache
	memory, err := cache.NewMemoryTier(cache.MemoryConfig{MaxEntries: cc.MemoryEntries, MaxBytes: cc.MemoryBytes}, logger)
	if err != nil {
		return nil, err
	}
	disk, err := cache.OpenBoltTier(cache.BoltConfig{Path: cc.DiskPath}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return disk.Close() })

	tiered := cache.TieredConfig{Memory: memory, Disk: disk, DisablePromotion: cc.DisablePromotion}
	if cc.RedisAddr != "" {
		shared, err := cache.NewRedisTier(ctx, &cache.RedisConfig{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
			CacheTTL: cc.RedisTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return shared.Close() })
		tiered.Shared = shared
	}
	return cache.NewTiered(tiered, a.Recorder.Counters, logger)
}

func (a *App) buildSources(ctx context.Context, fs afero.Fs, logger zerolog.Logger) (contentsource.Client, error) {
	sc := a.Config.Sources
	router := contentsource.NewRouter()

	if sc.FSEnabled {
		router.Register("file", contentsource.NewFS(fs, logger))
	}
	if sc.GCSEnabled {
		gcsCfg := contentsource.GCSConfig{CredentialsFile: sc.GCSCredentialsFile, Endpoint: sc.GCSEndpoint, MaxObjectBytes: sc.MaxObjectBytes}
		client, err := contentsource.NewGCSStorageClient(ctx, gcsCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		gcs, err := contentsource.NewGCS(contentsource.NewGCSClientAdapter(client), gcsCfg, logger)
		if err != nil {
			return nil, err
		}
		router.Register("gs", gcs)
	}
	if sc.S3Enabled {
		s3Cfg := contentsource.S3Config{Region: sc.S3Region, Endpoint: sc.S3Endpoint, MaxObjectBytes: sc.MaxObjectBytes}
		client, err := contentsource.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return nil, err
		}
		s3, err := contentsource.NewS3(client, s3Cfg, logger)
		if err != nil {
			return nil, err
		}
		router.Register("s3", s3)
	}
	if sc.MatrixHomeserverURL != "" {
		matrix, err := contentsource.NewMatrix(contentsource.MatrixConfig{
			HomeserverURL:  sc.MatrixHomeserverURL,
			AccessToken:    sc.MatrixAccessToken,
			Timeout:        sc.MatrixTimeout,
			MaxObjectBytes: sc.MaxObjectBytes,
		}, logger)
		if err != nil {
			return nil, err
		}
		router.Register("mxc", matrix)
	}

	if len(router.Schemes()) == 0 {
		return nil, errors.New("no content sources are enabled")
	}
	a.logger.Info().Strs("schemes", router.Schemes()).Msg("Content sources registered.")
	return contentsource.NewRateLimited(router, sc.RatePerSecond, sc.RateBurst), nil
}

func (a *App) buildSignal(ctx context.Context, logger zerolog.Logger) (reachability.Signal, error) {
	rc := a.Config.Reachability
	if rc.SubscriptionID == "" {
		return reachability.NewValue(reachability.Reachable), nil
	}

	client, err := pubsub.NewClient(ctx, rc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	signal, err := reachability.NewPubSubSignal(ctx, reachability.PubSubConfig{
		ProjectID:      rc.ProjectID,
		SubscriptionID: rc.SubscriptionID,
		Initial:        reachability.Reachable,
	}, client, logger)
	if err != nil {
		return nil, err
	}
	if err := signal.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, signal.Stop)
	return signal, nil
}

// Stats gathers counters, latency and per-tier contents.
func (a *App) Stats(ctx context.Context) (any, error) {
	tiers, err := a.Tiers.Stats(ctx)
	latency := make(map[string]metrics.Stats)
	for _, s := range a.Recorder.Latency.GetAllStats() {
		latency[s.Operation] = s
	}
	return map[string]any{
		"counters": a.Recorder.Counters.Snapshot(),
		"latency":  latency,
		"tiers":    tiers,
		"inFlight": a.Loader.InFlight(),
	}, err
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
