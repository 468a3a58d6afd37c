package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-mediacache/pkg/media"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	CacheTTL  time.Duration
	KeyPrefix string
}

// RedisTier is the optional shared tier. Values are stored as raw bytes with a TTL.
type RedisTier struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
}

// NewRedisTier creates and connects a RedisTier.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisTier(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisTier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return newRedisTier(rdb, cfg, logger), nil
}

func newRedisTier(rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) *RedisTier {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "media:"
	}
	return &RedisTier{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisTier").Logger(),
		ttl:         cfg.CacheTTL,
		prefix:      prefix,
	}
}

func (c *RedisTier) key(key media.CacheKey) string {
	return c.prefix + string(key)
}

// Get implements Tier. redis.Nil is a miss.
func (c *RedisTier) Get(ctx context.Context, key media.CacheKey) ([]byte, bool, error) {
	data, err := c.redisClient.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from redis: %w", err)
	}
	c.logger.Debug().Str("key", key.String()).Msg("Redis cache hit.")
	return data, true, nil
}

// Set implements Tier, applying the configured TTL.
func (c *RedisTier) Set(ctx context.Context, key media.CacheKey, value []byte) error {
	if err := c.redisClient.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	c.logger.Debug().Str("key", key.String()).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Delete implements Tier.
func (c *RedisTier) Delete(ctx context.Context, key media.CacheKey) error {
	if err := c.redisClient.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Clear removes every key under the tier's prefix.
func (c *RedisTier) Clear(ctx context.Context) error {
	iter := c.redisClient.Scan(ctx, 0, c.prefix+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := c.redisClient.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to clear redis: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis: %w", err)
	}
	if len(batch) > 0 {
		if err := c.redisClient.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to clear redis: %w", err)
		}
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisTier) Close() error {
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.redisClient.Close()
	}
	return nil
}
