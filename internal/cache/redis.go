package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, workspaceID string, key string) ([]byte, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, workspaceID string, key string, value []byte, ttl time.Duration) error {
	if workspaceID == "" {
		return fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)
	return c.client.Set(ctx, fullKey, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, workspaceID string, key string) error {
	if workspaceID == "" {
		return fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)
	return c.client.Del(ctx, fullKey).Err()
}

// GetMetricSeries retrieves a cached per-metric value map.
func (c *RedisCache) GetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error) {
	data, err := c.Get(ctx, workspaceID, metricSeriesKey(metricTypeID))
	if err != nil || data == nil {
		return nil, err
	}

	var values map[int]float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// SetMetricSeries caches a fetched per-metric value map.
func (c *RedisCache) SetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int, values map[int]float64, ttl time.Duration) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return c.Set(ctx, workspaceID, metricSeriesKey(metricTypeID), bytes, ttl)
}

// GetCatalog retrieves the cached category catalog.
func (c *RedisCache) GetCatalog(ctx context.Context, workspaceID string) (*domain.Catalog, error) {
	data, err := c.Get(ctx, workspaceID, catalogKey)
	if err != nil || data == nil {
		return nil, err
	}

	var cat domain.Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// SetCatalog caches the category catalog.
func (c *RedisCache) SetCatalog(ctx context.Context, workspaceID string, catalog *domain.Catalog, ttl time.Duration) error {
	bytes, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	return c.Set(ctx, workspaceID, catalogKey, bytes, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(workspaceID, key string) string {
	return "kestrel:" + workspaceID + ":" + key
}
