// Package worker provides async re-resolution for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/districts"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/metric"
	"github.com/opensource-health/kestrel/internal/rules"
)

// Worker listens for plan changes on the EventBus and re-runs the resolution
// pass asynchronously, so interactive rule edits never block on a full pass.
type Worker struct {
	bus           domain.EventBus
	repo          domain.Repository
	resolver      *rules.Resolver
	exprs         *rules.Expressions
	store         *districts.Store
	metrics       *metric.Loader
	catalogs      *catalog.Loader
	defaultPolicy domain.Policy

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkspaceIDs is the list of workspaces to process.
	WorkspaceIDs []string

	// DefaultPolicy is used when a trigger message carries no policy.
	DefaultPolicy domain.Policy
}

// NewWorker creates a new async resolution worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, resolver *rules.Resolver, exprs *rules.Expressions, store *districts.Store, metrics *metric.Loader, catalogs *catalog.Loader) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		repo:          repo,
		resolver:      resolver,
		exprs:         exprs,
		store:         store,
		metrics:       metrics,
		catalogs:      catalogs,
		defaultPolicy: domain.PolicyExclusive,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing plan-change events for the given workspaces.
func (w *Worker) Start(cfg Config) error {
	if cfg.DefaultPolicy.Valid() {
		w.defaultPolicy = cfg.DefaultPolicy
	}

	for _, workspaceID := range cfg.WorkspaceIDs {
		if err := w.startWorkspaceWorker(workspaceID); err != nil {
			slog.Error("failed to start worker for workspace",
				"workspace_id", workspaceID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"workspace_count", len(cfg.WorkspaceIDs),
	)

	return nil
}

// startWorkspaceWorker subscribes one workspace to the plan-change topics.
func (w *Worker) startWorkspaceWorker(workspaceID string) error {
	for _, topic := range []string{domain.TopicRulesUpdated, domain.TopicExceptionsChanged} {
		sub, err := w.bus.Subscribe(w.ctx, workspaceID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.resolvePass(ctx, workspaceID, msg)
		})
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("workspace worker started",
		"workspace_id", workspaceID,
	)

	return nil
}

// ResolveMessage is the payload that triggers a resolution pass.
type ResolveMessage struct {
	WorkspaceID   string `json:"workspaceId"`
	Policy        string `json:"policy,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	MetricTypeIDs []int  `json:"metricTypeIds,omitempty"`
}

// resolvePass runs one full resolution over the workspace's districts.
func (w *Worker) resolvePass(ctx context.Context, workspaceID string, msg *domain.Message) error {
	start := time.Now()

	// Parse trigger. An empty or malformed payload still triggers a pass
	// with the default policy.
	var rm ResolveMessage
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &rm); err != nil {
			slog.Warn("unparseable resolve trigger, using defaults",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
	// The subscription's workspace is authoritative; the payload's
	// workspaceId field is informational only.
	policy := domain.Policy(rm.Policy)
	if !policy.Valid() {
		policy = w.defaultPolicy
	}

	traceID := rm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("starting resolution pass",
		"workspace_id", workspaceID,
		"policy", policy,
		"trace_id", traceID,
	)

	// 1. Load the current plan
	plan, err := w.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to load plan",
			"workspace_id", workspaceID,
			"error", err,
		)
		return err
	}

	// 2. Recompile expression-form rules
	if w.exprs != nil {
		if err := w.exprs.Reload(plan); err != nil {
			slog.Warn("expression reload reported errors",
				"workspace_id", workspaceID,
				"error", err,
			)
		}
	}

	// 3. Fetch metric data for every metric the plan reads, structured
	// criteria and compiled expressions alike, plus extras the trigger names
	metricIDs := metric.CriteriaMetricIDs(plan)
	if w.exprs != nil {
		metricIDs = mergeIDs(metricIDs, w.exprs.MetricIDs())
	}
	metricIDs = mergeIDs(metricIDs, rm.MetricTypeIDs)

	var table domain.MetricTable
	if w.metrics != nil {
		table, err = w.metrics.Table(ctx, workspaceID, metricIDs)
		if err != nil {
			slog.Error("failed to build metric table",
				"workspace_id", workspaceID,
				"error", err,
			)
			return err
		}
	}

	// 4. Load the catalog. A missing catalog degrades labels, not the pass.
	var cat *domain.Catalog
	if w.catalogs != nil {
		cat, err = w.catalogs.Load(ctx, workspaceID)
		if err != nil {
			slog.Warn("catalog unavailable, mix labels will be empty",
				"workspace_id", workspaceID,
				"error", err,
			)
			cat = nil
		}
	}

	// 5. Resolve under the store's write lock and snapshot the result
	var assignments []domain.DistrictAssignment
	w.store.Update(workspaceID, func(ds []*domain.District) {
		w.resolver.Resolve(ds, plan, table, cat, policy)
		assignments = rules.Assignments(ds)
	})

	res := &domain.Resolution{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Policy:      policy,
		Districts:   assignments,
		Timestamp:   time.Now().UTC(),
		Metadata: domain.ResolutionMetadata{
			TraceID:       traceID,
			ResolveMs:     time.Since(start).Milliseconds(),
			DistrictCount: len(assignments),
			RuleCount:     len(plan),
			EngineVersion: domain.EngineVersion,
		},
	}

	// 6. Persist the snapshot
	if w.repo != nil {
		if err := w.repo.SaveResolution(ctx, workspaceID, res); err != nil {
			slog.Error("failed to save resolution",
				"workspace_id", workspaceID,
				"resolution_id", res.ID,
				"error", err,
			)
		}
	}

	// 7. Publish completion for rendering consumers
	resultPayload, _ := json.Marshal(res)
	if err := w.bus.Publish(ctx, workspaceID, domain.TopicResolutionCompleted, resultPayload); err != nil {
		slog.Error("failed to publish resolution",
			"workspace_id", workspaceID,
			"resolution_id", res.ID,
			"error", err,
		)
	}

	slog.Info("resolution pass completed",
		"workspace_id", workspaceID,
		"resolution_id", res.ID,
		"policy", policy,
		"district_count", len(assignments),
		"rule_count", len(plan),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

func mergeIDs(base, extra []int) []int {
	seen := make(map[int]bool, len(base))
	for _, id := range base {
		seen[id] = true
	}
	for _, id := range extra {
		if !seen[id] {
			seen[id] = true
			base = append(base, id)
		}
	}
	return base
}
