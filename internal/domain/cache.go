package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching fetched metric series and catalog
// payloads. Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require workspaceID for strict workspace isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, workspaceID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, workspaceID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, workspaceID string, key string) error

	// GetMetricSeries retrieves a cached per-metric value map
	// (orgUnitID -> value). Returns nil, nil on miss.
	GetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error)

	// SetMetricSeries caches a fetched per-metric value map.
	SetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int, values map[int]float64, ttl time.Duration) error

	// GetCatalog retrieves the cached category catalog. Returns nil, nil on miss.
	GetCatalog(ctx context.Context, workspaceID string) (*Catalog, error)

	// SetCatalog caches the category catalog.
	SetCatalog(ctx context.Context, workspaceID string, catalog *Catalog, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
