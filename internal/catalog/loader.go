// Package catalog loads the category/intervention reference data the mix
// builder resolves display names against.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Loader fetches the catalog JSON document over HTTP with cache-first reads.
// The catalog changes rarely, so it gets a long TTL.
type Loader struct {
	client *http.Client
	url    string
	cache  domain.Cache
	ttl    time.Duration
}

// NewLoader creates a catalog loader. cache may be nil.
func NewLoader(url string, timeout time.Duration, cache domain.Cache) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		client: &http.Client{Timeout: timeout},
		url:    url,
		cache:  cache,
		ttl:    time.Hour,
	}
}

// Load returns the workspace's catalog: cached copy if present, otherwise
// fetched from the configured source and cached.
func (l *Loader) Load(ctx context.Context, workspaceID string) (*domain.Catalog, error) {
	if l.cache != nil {
		if cat, err := l.cache.GetCatalog(ctx, workspaceID); err == nil && cat != nil {
			return cat, nil
		}
	}

	cat, err := l.fetchHTTP(ctx)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.SetCatalog(ctx, workspaceID, cat, l.ttl); err != nil {
			slog.Warn("failed to cache catalog", "error", err)
		}
	}
	return cat, nil
}

func (l *Loader) fetchHTTP(ctx context.Context) (*domain.Catalog, error) {
	if l.url == "" {
		return nil, fmt.Errorf("no catalog source configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}

	// The source file is either a bare category array or an object with a
	// "categories" field. Accept both.
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("catalog: invalid payload: %w", err)
	}

	var cats []domain.Category
	if err := json.Unmarshal(body, &cats); err != nil {
		var doc struct {
			Categories []domain.Category `json:"categories"`
		}
		if objErr := json.Unmarshal(body, &doc); objErr != nil {
			return nil, fmt.Errorf("catalog: invalid payload: %w", objErr)
		}
		cats = doc.Categories
	}

	return domain.NewCatalog(cats), nil
}
