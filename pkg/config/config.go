// Package config loads the service configuration. Values come from built-in
// defaults, then an optional YAML file, then a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. MEDIACACHE_HTTP_ADDR.
const EnvPrefix = "MEDIACACHE"

// Config is the complete service configuration.
type Config struct {
	LogLevel     string             `yaml:"log_level" split_words:"true"`
	HTTP         HTTPConfig         `yaml:"http"`
	Cache        CacheConfig        `yaml:"cache"`
	Sources      SourcesConfig      `yaml:"sources"`
	Provider     ProviderConfig     `yaml:"provider"`
	Reachability ReachabilityConfig `yaml:"reachability"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" split_words:"true"`
	AllowedOrigins []string      `yaml:"allowed_origins" split_words:"true"`
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

// CacheConfig configures the memory, disk and shared tiers.
type CacheConfig struct {
	MemoryEntries    int           `yaml:"memory_entries" split_words:"true"`
	MemoryBytes      int64         `yaml:"memory_bytes" split_words:"true"`
	DiskPath         string        `yaml:"disk_path" split_words:"true"`
	DisablePromotion bool          `yaml:"disable_promotion" split_words:"true"`
	RedisAddr        string        `yaml:"redis_addr" split_words:"true"`
	RedisPassword    string        `yaml:"redis_password" split_words:"true"`
	RedisDB          int           `yaml:"redis_db" split_words:"true"`
	RedisTTL         time.Duration `yaml:"redis_ttl" split_words:"true"`
}

// SourcesConfig enables and configures the content source adapters.
type SourcesConfig struct {
	MaxObjectBytes int64   `yaml:"max_object_bytes" split_words:"true"`
	RatePerSecond  float64 `yaml:"rate_per_second" split_words:"true"`
	RateBurst      int     `yaml:"rate_burst" split_words:"true"`

	GCSEnabled         bool   `yaml:"gcs_enabled" split_words:"true"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file" split_words:"true"`
	GCSEndpoint        string `yaml:"gcs_endpoint" split_words:"true"`

	S3Enabled  bool   `yaml:"s3_enabled" split_words:"true"`
	S3Region   string `yaml:"s3_region" split_words:"true"`
	S3Endpoint string `yaml:"s3_endpoint" split_words:"true"`

	FSEnabled bool `yaml:"fs_enabled" split_words:"true"`

	MatrixHomeserverURL string        `yaml:"matrix_homeserver_url" split_words:"true"`
	MatrixAccessToken   string        `yaml:"matrix_access_token" split_words:"true"`
	MatrixTimeout       time.Duration `yaml:"matrix_timeout" split_words:"true"`
}

// ProviderConfig tunes the media provider.
type ProviderConfig struct {
	RetryWindow         time.Duration `yaml:"retry_window" split_words:"true"`
	FileDir             string        `yaml:"file_dir" split_words:"true"`
	PrefetchConcurrency int           `yaml:"prefetch_concurrency" split_words:"true"`
}

// ReachabilityConfig names the Pub/Sub subscription carrying reachability
// updates. With no subscription the service assumes it is always reachable.
type ReachabilityConfig struct {
	ProjectID      string `yaml:"project_id" split_words:"true"`
	SubscriptionID string `yaml:"subscription_id" split_words:"true"`
}

// DataDir returns the default directory for on-disk state.
func DataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".mediacache"
	}
	return filepath.Join(dir, "mediacache")
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			RequestTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MemoryEntries: 512,
			MemoryBytes:   64 << 20,
			DiskPath:      filepath.Join(DataDir(), "media.db"),
			RedisTTL:      24 * time.Hour,
		},
		Sources: SourcesConfig{
			MaxObjectBytes: 32 << 20,
			RateBurst:      10,
			FSEnabled:      true,
			MatrixTimeout:  30 * time.Second,
		},
		Provider: ProviderConfig{
			FileDir:             filepath.Join(DataDir(), "files"),
			PrefetchConcurrency: 4,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; a missing
// file is not an error. envFiles are loaded into the environment first; when
// none are given ".env" is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http address is required")
	}
	if c.Cache.MemoryEntries < 0 || c.Cache.MemoryBytes < 0 {
		return errors.New("memory cache bounds must not be negative")
	}
	if c.Cache.DiskPath == "" {
		return errors.New("disk cache path is required")
	}
	if c.Sources.RatePerSecond < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.Provider.RetryWindow < 0 {
		return errors.New("retry window must not be negative")
	}
	if c.Reachability.SubscriptionID != "" && c.Reachability.ProjectID == "" {
		return errors.New("reachability subscription requires a project id")
	}
	return nil
}
