// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, workspaceID string, key string) ([]byte, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, workspaceID string, key string, value []byte, ttl time.Duration) error {
	if workspaceID == "" {
		return fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	// Add new entry
	entry := &cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[fullKey] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, workspaceID string, key string) error {
	if workspaceID == "" {
		return fmt.Errorf("workspaceID is required")
	}

	fullKey := c.makeKey(workspaceID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetMetricSeries retrieves a cached per-metric value map.
func (c *LRUCache) GetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error) {
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
func (c *LRUCache) SetMetricSeries(ctx context.Context, workspaceID string, metricTypeID int, values map[int]float64, ttl time.Duration) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return c.Set(ctx, workspaceID, metricSeriesKey(metricTypeID), bytes, ttl)
}

// GetCatalog retrieves the cached category catalog.
func (c *LRUCache) GetCatalog(ctx context.Context, workspaceID string) (*domain.Catalog, error) {
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
func (c *LRUCache) SetCatalog(ctx context.Context, workspaceID string, catalog *domain.Catalog, ttl time.Duration) error {
	bytes, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	return c.Set(ctx, workspaceID, catalogKey, bytes, ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(workspaceID, key string) string {
	return workspaceID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

const catalogKey = "catalog"

func metricSeriesKey(metricTypeID int) string {
	return "metric:" + strconv.Itoa(metricTypeID)
}
