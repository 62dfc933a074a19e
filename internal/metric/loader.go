// Package metric fetches per-metric value files and assembles the
// district-keyed metric table the engine consumes.
package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Loader fetches per-metric JSON files (orgUnitID -> value, keyed by the
// metric type's numeric id) over HTTP, with cache-first reads and a
// repository fallback when the source is unreachable.
type Loader struct {
	client  *http.Client
	baseURL string
	cache   domain.Cache
	repo    domain.Repository
	ttl     time.Duration
}

// NewLoader creates a metric loader. cache and repo may be nil.
func NewLoader(baseURL string, timeout time.Duration, cache domain.Cache, repo domain.Repository) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		cache:   cache,
		repo:    repo,
		ttl:     15 * time.Minute,
	}
}

// Fetch returns one metric's values keyed by org unit id.
// Order of attempts: cache, HTTP source, repository.
func (l *Loader) Fetch(ctx context.Context, workspaceID string, metricTypeID int) (map[int]float64, error) {
	if l.cache != nil {
		if values, err := l.cache.GetMetricSeries(ctx, workspaceID, metricTypeID); err == nil && values != nil {
			return values, nil
		}
	}

	values, err := l.fetchHTTP(ctx, metricTypeID)
	if err != nil {
		slog.Warn("metric fetch failed, trying repository",
			"metric_type_id", metricTypeID,
			"error", err,
		)
		if l.repo != nil {
			stored, repoErr := l.repo.GetMetricValues(ctx, workspaceID, metricTypeID)
			if repoErr == nil && stored != nil {
				return stored, nil
			}
		}
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.SetMetricSeries(ctx, workspaceID, metricTypeID, values, l.ttl); err != nil {
			slog.Warn("failed to cache metric series", "metric_type_id", metricTypeID, "error", err)
		}
	}
	if l.repo != nil {
		if err := l.repo.SaveMetricValues(ctx, workspaceID, metricTypeID, values); err != nil {
			slog.Warn("failed to persist metric series", "metric_type_id", metricTypeID, "error", err)
		}
	}

	return values, nil
}

// Table fetches every requested metric and transposes the results into the
// district-keyed view the engine consumes. A metric that cannot be fetched
// from any source is simply absent from the table: criteria over it fail to
// match, per the engine's missing-data semantics.
func (l *Loader) Table(ctx context.Context, workspaceID string, metricTypeIDs []int) (domain.MetricTable, error) {
	perMetric := make(map[int]map[int]float64, len(metricTypeIDs))
	for _, id := range metricTypeIDs {
		values, err := l.Fetch(ctx, workspaceID, id)
		if err != nil {
			slog.Warn("metric unavailable for table", "metric_type_id", id, "error", err)
			continue
		}
		perMetric[id] = values
	}
	return Transpose(perMetric), nil
}

// fetchHTTP retrieves {base}/metrics/{id}.json. The file is a flat JSON
// object of org unit id (string key) to numeric value.
func (l *Loader) fetchHTTP(ctx context.Context, metricTypeID int) (map[int]float64, error) {
	if l.baseURL == "" {
		return nil, fmt.Errorf("no metric source configured")
	}

	url := fmt.Sprintf("%s/metrics/%d.json", l.baseURL, metricTypeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metric %d: %w", metricTypeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metric %d: unexpected status %d", metricTypeID, resp.StatusCode)
	}

	var raw map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("metric %d: invalid payload: %w", metricTypeID, err)
	}

	values := make(map[int]float64, len(raw))
	for key, value := range raw {
		orgUnitID, err := strconv.Atoi(key)
		if err != nil {
			// Non-numeric org unit keys are skipped, not fatal.
			continue
		}
		values[orgUnitID] = value
	}
	return values, nil
}

// Transpose converts the fetch-shaped data (metricTypeID -> orgUnitID ->
// value) into the district-keyed table the matcher reads. Org unit ids
// become the districts' stable string ids.
func Transpose(perMetric map[int]map[int]float64) domain.MetricTable {
	table := make(domain.MetricTable)
	for metricTypeID, values := range perMetric {
		for orgUnitID, value := range values {
			districtID := strconv.Itoa(orgUnitID)
			row, ok := table[districtID]
			if !ok {
				row = make(map[int]float64)
				table[districtID] = row
			}
			row[metricTypeID] = value
		}
	}
	return table
}

// CriteriaMetricIDs collects the distinct metric type ids a plan's criteria
// reference, so a resolve pass fetches only what it needs.
func CriteriaMetricIDs(plan []*domain.Rule) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, rule := range plan {
		if rule == nil {
			continue
		}
		for _, c := range rule.Criteria {
			if c.MetricTypeID != nil && !seen[*c.MetricTypeID] {
				seen[*c.MetricTypeID] = true
				ids = append(ids, *c.MetricTypeID)
			}
		}
	}
	return ids
}
