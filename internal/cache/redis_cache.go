package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mandeltiles/internal/config"
	"mandeltiles/internal/metrics"
)

// RedisCache stores tiles under "tile:{z}:{x}:{y}". A zero TTL keeps entries
// forever.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(cfg config.Redis) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
	}, nil
}

func (c *RedisCache) keyFor(k TileKey) string {
	return fmt.Sprintf("tile:%d:%d:%d", k.Z, k.X, k.Y)
}

func (c *RedisCache) Get(ctx context.Context, k TileKey) ([]byte, bool, error) {
	start := time.Now()
	defer func() {
		metrics.BackendOperationDuration.WithLabelValues("redis", "get").Observe(time.Since(start).Seconds())
	}()

	data, err := c.client.Get(ctx, c.keyFor(k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.BackendErrors.WithLabelValues("redis", "get").Inc()
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, k TileKey, v []byte) error {
	start := time.Now()
	defer func() {
		metrics.BackendOperationDuration.WithLabelValues("redis", "set").Observe(time.Since(start).Seconds())
	}()

	if err := c.client.Set(ctx, c.keyFor(k), v, c.ttl).Err(); err != nil {
		metrics.BackendErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
