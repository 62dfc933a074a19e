package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()
	workspaceID := "ws-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, workspaceID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, workspaceID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected value1, got %s", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		val, err := c.Get(ctx, workspaceID, "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %s", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, workspaceID, "key2", []byte("value2"), time.Minute)
		if err := c.Delete(ctx, workspaceID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, workspaceID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		c.Set(ctx, workspaceID, "short", []byte("value"), -time.Second)
		val, _ := c.Get(ctx, workspaceID, "short")
		if val != nil {
			t.Error("expected expired entry to read as miss")
		}
	})

	t.Run("RequiresWorkspaceID", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "key1"); err == nil {
			t.Error("expected error for empty workspaceID")
		}
		if err := c.Set(ctx, "", "key1", []byte("x"), time.Minute); err == nil {
			t.Error("expected error for empty workspaceID")
		}
	})

	t.Run("WorkspaceIsolation", func(t *testing.T) {
		c.Set(ctx, "ws-a", "shared", []byte("a"), time.Minute)
		c.Set(ctx, "ws-b", "shared", []byte("b"), time.Minute)

		val, _ := c.Get(ctx, "ws-a", "shared")
		if string(val) != "a" {
			t.Errorf("expected a, got %s", val)
		}
		val, _ = c.Get(ctx, "ws-b", "shared")
		if string(val) != "b" {
			t.Errorf("expected b, got %s", val)
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()
	workspaceID := "ws-001"

	c.Set(ctx, workspaceID, "k1", []byte("1"), time.Minute)
	c.Set(ctx, workspaceID, "k2", []byte("2"), time.Minute)
	c.Set(ctx, workspaceID, "k3", []byte("3"), time.Minute)

	// Touch k1 so k2 becomes the oldest.
	c.Get(ctx, workspaceID, "k1")

	c.Set(ctx, workspaceID, "k4", []byte("4"), time.Minute)

	if val, _ := c.Get(ctx, workspaceID, "k2"); val != nil {
		t.Error("expected k2 to be evicted")
	}
	if val, _ := c.Get(ctx, workspaceID, "k1"); val == nil {
		t.Error("expected k1 to survive eviction")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected 3/3, got %d/%d", size, capacity)
	}
}

func TestLRUCacheMetricSeries(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()
	workspaceID := "ws-001"

	values := map[int]float64{1001: 0.8, 1002: 0.5}
	if err := c.SetMetricSeries(ctx, workspaceID, 12, values, time.Minute); err != nil {
		t.Fatalf("SetMetricSeries failed: %v", err)
	}

	retrieved, err := c.GetMetricSeries(ctx, workspaceID, 12)
	if err != nil {
		t.Fatalf("GetMetricSeries failed: %v", err)
	}
	if retrieved[1001] != 0.8 || retrieved[1002] != 0.5 {
		t.Errorf("metric series did not round-trip: %v", retrieved)
	}

	// Different metric id is a miss.
	retrieved, err = c.GetMetricSeries(ctx, workspaceID, 7)
	if err != nil {
		t.Fatalf("GetMetricSeries failed: %v", err)
	}
	if retrieved != nil {
		t.Errorf("expected nil on miss, got %v", retrieved)
	}
}

func TestLRUCacheCatalog(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()
	workspaceID := "ws-001"

	catalog := domain.NewCatalog([]domain.Category{
		{ID: 1, Name: "Vector Control", Interventions: []domain.Intervention{
			{ID: 10, Name: "Insecticide-treated nets", ShortName: "ITN"},
		}},
	})

	if err := c.SetCatalog(ctx, workspaceID, catalog, time.Minute); err != nil {
		t.Fatalf("SetCatalog failed: %v", err)
	}

	retrieved, err := c.GetCatalog(ctx, workspaceID)
	if err != nil {
		t.Fatalf("GetCatalog failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected cached catalog")
	}
	if name, ok := retrieved.ShortName(1, 10); !ok || name != "ITN" {
		t.Errorf("catalog did not round-trip: %q (ok=%v)", name, ok)
	}

	if cat, _ := c.GetCatalog(ctx, "ws-other"); cat != nil {
		t.Error("catalog must not leak between workspaces")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if err := c.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
