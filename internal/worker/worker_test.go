package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/districts"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/metric"
	"github.com/opensource-health/kestrel/internal/repository"
	"github.com/opensource-health/kestrel/internal/rules"
)

func testSource(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metrics/12.json":
			fmt.Fprint(w, `{"1001": 0.8, "1002": 0.4}`)
		case "/catalog.json":
			fmt.Fprint(w, `{"categories": [
				{"id": 1, "name": "Vector Control", "interventions": [
					{"id": 10, "name": "Insecticide-treated nets", "short_name": "ITN"}
				]}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	src := testSource(t)
	metrics := metric.NewLoader(src.URL, 5*time.Second, nil, nil)
	catalogs := catalog.NewLoader(src.URL+"/catalog.json", 5*time.Second, nil)

	exprs, err := rules.NewExpressions()
	if err != nil {
		t.Fatalf("failed to create expression engine: %v", err)
	}
	defer exprs.Close()
	resolver := rules.NewResolver(exprs)

	store := districts.NewStore()

	ctx := context.Background()
	workspaceID := "ws-001"

	metricID := 12
	rule := &domain.Rule{
		ID:    "rule-001",
		Title: "High transmission",
		Color: "#d04f4f",
		Criteria: []domain.Criterion{
			{MetricTypeID: &metricID, Operator: domain.OpGreaterEq, Threshold: "0.6"},
		},
		Interventions: map[int]int{1: 10},
	}
	if err := repo.SaveRule(ctx, workspaceID, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	store.Replace(workspaceID, []*domain.District{
		{ID: "1001", Name: "Bougouni"},
		{ID: "1002", Name: "Kati"},
	})

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, repo, resolver, exprs, store, metrics, catalogs)

		if err := w.Start(Config{WorkspaceIDs: []string{workspaceID}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ResolvesOnRulesUpdated", func(t *testing.T) {
		w := NewWorker(eventBus, repo, resolver, exprs, store, metrics, catalogs)
		w.Start(Config{WorkspaceIDs: []string{workspaceID}})
		defer w.Stop()

		var completed atomic.Bool
		var resultPayload []byte

		eventBus.Subscribe(ctx, workspaceID, domain.TopicResolutionCompleted, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			completed.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		trigger, _ := json.Marshal(ResolveMessage{WorkspaceID: workspaceID, Policy: "exclusive", TraceID: "trace-001"})
		if err := eventBus.Publish(ctx, workspaceID, domain.TopicRulesUpdated, trigger); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(3 * time.Second)
		for !completed.Load() && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if !completed.Load() {
			t.Fatal("expected resolution to complete")
		}

		var res domain.Resolution
		if err := json.Unmarshal(resultPayload, &res); err != nil {
			t.Fatalf("failed to parse resolution: %v", err)
		}
		if res.Policy != domain.PolicyExclusive {
			t.Errorf("expected exclusive policy, got %s", res.Policy)
		}
		if res.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID trace-001, got %s", res.Metadata.TraceID)
		}
		if res.Metadata.RuleCount != 1 {
			t.Errorf("expected 1 rule, got %d", res.Metadata.RuleCount)
		}

		// The matching district gets the rule's mix, the other stays clean.
		d, ok := store.Get(workspaceID, "1001")
		if !ok {
			t.Fatal("district 1001 not found")
		}
		if d.Color != "#d04f4f" || d.MixLabel != "ITN" {
			t.Errorf("1001: expected match, got color=%q label=%q", d.Color, d.MixLabel)
		}
		d, _ = store.Get(workspaceID, "1002")
		if d.Color != "" || d.MixLabel != "" {
			t.Errorf("1002: expected clean baseline, got color=%q label=%q", d.Color, d.MixLabel)
		}

		// Snapshot persisted.
		latest, err := repo.LatestResolution(ctx, workspaceID)
		if err != nil {
			t.Fatalf("LatestResolution failed: %v", err)
		}
		if latest.ID != res.ID {
			t.Errorf("expected persisted resolution %s, got %s", res.ID, latest.ID)
		}
	})

	t.Run("ResolvesOnExceptionsChanged", func(t *testing.T) {
		w := NewWorker(eventBus, repo, resolver, exprs, store, metrics, catalogs)
		w.Start(Config{WorkspaceIDs: []string{workspaceID}})
		defer w.Stop()

		var completed atomic.Bool
		eventBus.Subscribe(ctx, workspaceID, domain.TopicResolutionCompleted, func(ctx context.Context, msg *domain.Message) error {
			completed.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Empty payload still triggers a pass with the default policy.
		eventBus.Publish(ctx, workspaceID, domain.TopicExceptionsChanged, nil)

		deadline := time.Now().Add(3 * time.Second)
		for !completed.Load() && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if !completed.Load() {
			t.Fatal("expected resolution to complete on exceptions change")
		}
	})

	t.Run("IgnoresForeignWorkspacePayload", func(t *testing.T) {
		w := NewWorker(eventBus, repo, resolver, exprs, store, metrics, catalogs)
		w.Start(Config{WorkspaceIDs: []string{workspaceID}})
		defer w.Stop()

		var completed atomic.Bool
		var resultPayload []byte
		eventBus.Subscribe(ctx, workspaceID, domain.TopicResolutionCompleted, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			completed.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// A payload naming another workspace must not redirect the pass.
		trigger, _ := json.Marshal(ResolveMessage{WorkspaceID: "ws-999", Policy: "exclusive"})
		if err := eventBus.Publish(ctx, workspaceID, domain.TopicRulesUpdated, trigger); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(3 * time.Second)
		for !completed.Load() && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if !completed.Load() {
			t.Fatal("expected resolution to complete")
		}

		var res domain.Resolution
		if err := json.Unmarshal(resultPayload, &res); err != nil {
			t.Fatalf("failed to parse resolution: %v", err)
		}
		if res.WorkspaceID != workspaceID {
			t.Errorf("expected resolution for %s, got %s", workspaceID, res.WorkspaceID)
		}

		latest, err := repo.LatestResolution(ctx, workspaceID)
		if err != nil {
			t.Fatalf("LatestResolution failed: %v", err)
		}
		if latest.WorkspaceID != workspaceID {
			t.Errorf("expected persisted workspace %s, got %s", workspaceID, latest.WorkspaceID)
		}
	})

	t.Run("MultiWorkspace", func(t *testing.T) {
		w := NewWorker(eventBus, repo, resolver, exprs, store, metrics, catalogs)
		w.Start(Config{WorkspaceIDs: []string{"ws-a", "ws-b"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions for 2 workspaces, got %d", stats.SubscriptionCount)
		}
	})
}

func TestResolveMessageParsing(t *testing.T) {
	msg := ResolveMessage{
		WorkspaceID:   "ws-001",
		Policy:        "cumulative",
		TraceID:       "trace-456",
		MetricTypeIDs: []int{12, 7},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed ResolveMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.WorkspaceID != msg.WorkspaceID {
		t.Errorf("expected WorkspaceID '%s', got '%s'", msg.WorkspaceID, parsed.WorkspaceID)
	}
	if parsed.Policy != msg.Policy {
		t.Errorf("expected Policy '%s', got '%s'", msg.Policy, parsed.Policy)
	}
	if len(parsed.MetricTypeIDs) != 2 {
		t.Errorf("expected 2 metric ids, got %d", len(parsed.MetricTypeIDs))
	}
}
