package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"KeyShift/core/audio"
	"KeyShift/logger"

	"github.com/redis/go-redis/v9"
)

const metadataKeyPrefix = "keyshift:meta:"

// RedisOptions selects the Redis instance shared by several service replicas.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// CheckRedis performs a set/get/delete round trip.
func CheckRedis(ctx context.Context, client *redis.Client) error {
	const key = metadataKeyPrefix + "healthcheck"
	const want = "keyshift redis check"

	if err := client.Set(ctx, key, want, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != want {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}

// RedisMetadataCache stores metadata as JSON strings with a TTL.
type RedisMetadataCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMetadataCache wraps an already connected client.
func NewRedisMetadataCache(client *redis.Client, ttl time.Duration) *RedisMetadataCache {
	return &RedisMetadataCache{client: client, ttl: ttl}
}

// metadataKey hashes the URL so arbitrary query strings make safe keys.
func metadataKey(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	return metadataKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisMetadataCache) Get(ctx context.Context, sourceURL string) (*audio.SourceMetadata, error) {
	data, err := c.client.Get(ctx, metadataKey(sourceURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get metadata: %w", err)
	}

	var meta audio.SourceMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		logger.Warn("dropping corrupt metadata cache entry",
			logger.String("url", sourceURL),
			logger.ErrorField(err))
		c.client.Del(ctx, metadataKey(sourceURL))
		return nil, nil
	}
	return &meta, nil
}

func (c *RedisMetadataCache) Set(ctx context.Context, sourceURL string, meta *audio.SourceMetadata) error {
	if meta == nil {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := c.client.Set(ctx, metadataKey(sourceURL), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set metadata: %w", err)
	}
	return nil
}

func (c *RedisMetadataCache) Close() error {
	return c.client.Close()
}
