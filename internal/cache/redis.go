package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEmptyAddress is returned when no Redis address is configured
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// Options holds the Redis connection settings
type Options struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection
func NewClient(opts Options) (*redis.Client, error) {
	if opts.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisCache keeps JSON encoded responses in Redis. Every key is also recorded
// in a per-project set so a project can be invalidated without scanning.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger.Named("cache")}
}

func (c *RedisCache) Get(ctx context.Context, key Key, dst any) bool {
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("cache entry is corrupt", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	c.logger.Debug("cache hit", zap.String("key", key.String()))
	return true
}

func (c *RedisCache) Set(ctx context.Context, key Key, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", zap.String("key", key.String()), zap.Error(err))
		return
	}
	index := projectIndexKey(key.ProjectID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key.String(), data, ttl)
		pipe.SAdd(ctx, index, key.String())
		pipe.Expire(ctx, index, HistoricalTTL)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// InvalidateProject deletes every cached response of the project
func (c *RedisCache) InvalidateProject(ctx context.Context, projectID string) error {
	index := projectIndexKey(projectID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}
	keys = append(keys, index)
	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	c.logger.Info("project cache invalidated",
		zap.String("project_id", projectID),
		zap.Int64("deleted", deleted))
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
