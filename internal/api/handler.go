package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-health/kestrel/internal/catalog"
	"github.com/opensource-health/kestrel/internal/districts"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/export"
	"github.com/opensource-health/kestrel/internal/metric"
	"github.com/opensource-health/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo          domain.Repository
	cache         domain.Cache
	bus           domain.EventBus
	resolver      *rules.Resolver
	exprs         *rules.Expressions
	store         *districts.Store
	metrics       *metric.Loader
	catalogs      *catalog.Loader
	version       string
	defaultPolicy domain.Policy
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, resolver *rules.Resolver, exprs *rules.Expressions, store *districts.Store, metrics *metric.Loader, catalogs *catalog.Loader, version string, defaultPolicy domain.Policy) *Handler {
	if !defaultPolicy.Valid() {
		defaultPolicy = domain.PolicyExclusive
	}
	return &Handler{
		repo:          repo,
		cache:         cache,
		bus:           bus,
		resolver:      resolver,
		exprs:         exprs,
		store:         store,
		metrics:       metrics,
		catalogs:      catalogs,
		version:       version,
		defaultPolicy: defaultPolicy,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// DistrictInput is one district in a PUT /districts payload.
type DistrictInput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RegionID   string `json:"regionId,omitempty"`
	RegionName string `json:"regionName,omitempty"`
}

// LoadDistrictsRequest is the request body for PUT /districts.
type LoadDistrictsRequest struct {
	Districts []DistrictInput `json:"districts"`
}

// LoadDistricts replaces the workspace's district table with the submitted
// geographic units. All derived assignment state starts at the clean baseline.
func (h *Handler) LoadDistricts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	var req LoadDistrictsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Districts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "districts is required",
		})
		return
	}

	seen := make(map[string]bool, len(req.Districts))
	loaded := make([]*domain.District, 0, len(req.Districts))
	for _, in := range req.Districts {
		if in.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "district id is required",
			})
			return
		}
		if seen[in.ID] {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("duplicate district id '%s'", in.ID),
			})
			return
		}
		seen[in.ID] = true

		d := &domain.District{
			ID:         in.ID,
			Name:       in.Name,
			RegionID:   in.RegionID,
			RegionName: in.RegionName,
		}
		d.ResetAssignment()
		loaded = append(loaded, d)
	}

	h.store.Replace(workspaceID, loaded)

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]int{"count": len(loaded)})
		if err := h.bus.Publish(ctx, workspaceID, domain.TopicDistrictsLoaded, payload); err != nil {
			slog.Error("failed to publish districts loaded", "error", err)
		}
	}

	slog.Info("districts loaded", "workspace_id", workspaceID, "count", len(loaded))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(loaded),
	})
}

// ListDistricts returns the workspace's districts with their current
// assignment state.
func (h *Handler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	workspaceID := GetWorkspaceID(r.Context())

	snapshot := h.store.Snapshot(workspaceID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"districts": snapshot,
		"count":     len(snapshot),
	})
}

// GetDistrict retrieves one district by ID.
func (h *Handler) GetDistrict(w http.ResponseWriter, r *http.Request) {
	workspaceID := GetWorkspaceID(r.Context())
	districtID := chi.URLParam(r, "id")

	d, ok := h.store.Get(workspaceID, districtID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "district not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// GetDistrictRuleColor reports the color of the last visible rule in plan
// order that currently matches the district, independent of any resolution
// pass.
func (h *Handler) GetDistrictRuleColor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	districtID := chi.URLParam(r, "id")

	if _, ok := h.store.Get(workspaceID, districtID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "district not found",
		})
		return
	}

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	table := h.metricTable(r, workspaceID, plan, nil)
	color := h.resolver.LastMatchingRuleColor(districtID, plan, table)

	writeJSON(w, http.StatusOK, map[string]string{
		"districtId": districtID,
		"ruleColor":  color,
	})
}

// ListRules returns the workspace's plan in order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": plan,
		"count": len(plan),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule appends a rule to the end of the plan.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "title is required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.WorkspaceID = workspaceID

	// Reject unparseable expression forms up front
	if h.exprs != nil {
		if err := h.exprs.Validate(&rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid expression: " + err.Error(),
			})
			return
		}
	}

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}
	rule.Position = len(plan)

	if err := h.repo.SaveRule(ctx, workspaceID, &rule); err != nil {
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	h.publishPlanChange(r, workspaceID, domain.TopicRulesUpdated)

	slog.Info("rule created", "workspace_id", workspaceID, "id", rule.ID, "title", rule.Title)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces a rule in place. The rule keeps its identity and its
// position in the plan.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	ruleID := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "title is required",
		})
		return
	}

	rule.ID = ruleID
	rule.WorkspaceID = workspaceID
	rule.Position = existing.Position

	if h.exprs != nil {
		if err := h.exprs.Validate(&rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveRule(ctx, workspaceID, &rule); err != nil {
		slog.Error("failed to update rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update rule",
		})
		return
	}

	h.publishPlanChange(r, workspaceID, domain.TopicRulesUpdated)

	slog.Info("rule updated", "workspace_id", workspaceID, "id", ruleID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule and compacts the remaining positions.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, workspaceID, ruleID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	// Close the gap so positions stay dense
	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err == nil {
		for i, rule := range plan {
			if rule.Position != i {
				rule.Position = i
				if err := h.repo.SaveRule(ctx, workspaceID, rule); err != nil {
					slog.Error("failed to compact rule position", "id", rule.ID, "error", err)
				}
			}
		}
	}

	h.publishPlanChange(r, workspaceID, domain.TopicRulesUpdated)

	slog.Info("rule deleted", "workspace_id", workspaceID, "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ReorderRulesRequest is the request body for POST /rules/reorder.
type ReorderRulesRequest struct {
	Order []string `json:"order"`
}

// ReorderRules rewrites plan order to match the submitted id list. The list
// must name every rule exactly once.
func (h *Handler) ReorderRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	var req ReorderRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	if len(req.Order) != len(plan) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("order must name all %d rules", len(plan)),
		})
		return
	}

	byID := make(map[string]*domain.Rule, len(plan))
	for _, rule := range plan {
		byID[rule.ID] = rule
	}

	ordered := make([]*domain.Rule, 0, len(req.Order))
	seen := make(map[string]bool, len(req.Order))
	for _, id := range req.Order {
		rule, ok := byID[id]
		if !ok || seen[id] {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown or duplicate rule id '%s'", id),
			})
			return
		}
		seen[id] = true
		ordered = append(ordered, rule)
	}

	for i, rule := range ordered {
		if rule.Position != i {
			rule.Position = i
			if err := h.repo.SaveRule(ctx, workspaceID, rule); err != nil {
				slog.Error("failed to save rule position", "id", rule.ID, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to reorder rules",
				})
				return
			}
		}
	}

	h.publishPlanChange(r, workspaceID, domain.TopicRulesUpdated)

	slog.Info("rules reordered", "workspace_id", workspaceID, "count", len(ordered))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ordered,
		"count": len(ordered),
	})
}

// ReloadRules recompiles all expression-form rules from the repository.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	if h.exprs != nil {
		if err := h.exprs.Reload(plan); err != nil {
			slog.Error("failed to reload expressions", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to reload rules: " + err.Error(),
			})
			return
		}
	}

	slog.Info("rules reloaded", "workspace_id", workspaceID, "count", len(plan))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(plan),
	})
}

// ExceptionRequest is the request body for POST /rules/{id}/exceptions.
type ExceptionRequest struct {
	DistrictIDs []string `json:"districtIds"`
}

// AddRuleExceptions carves districts out of one rule's match set.
func (h *Handler) AddRuleExceptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	ruleID := chi.URLParam(r, "id")

	var req ExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.DistrictIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "districtIds is required",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	added := 0
	for _, districtID := range req.DistrictIDs {
		next, changed := rules.AddException(rule, districtID)
		if changed {
			added++
		}
		rule = next
	}

	if added > 0 {
		if err := h.repo.SaveRule(ctx, workspaceID, rule); err != nil {
			slog.Error("failed to save rule exceptions", "id", ruleID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save exceptions",
			})
			return
		}
		h.publishPlanChange(r, workspaceID, domain.TopicExceptionsChanged)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":  rule,
		"added": added,
	})
}

// RemoveRuleException lifts one district's exclusion from a rule.
func (h *Handler) RemoveRuleException(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	ruleID := chi.URLParam(r, "id")
	districtID := chi.URLParam(r, "districtID")

	rule, err := h.repo.GetRule(ctx, workspaceID, ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	rule, removed := rules.RemoveException(rule, districtID)
	if removed {
		if err := h.repo.SaveRule(ctx, workspaceID, rule); err != nil {
			slog.Error("failed to save rule exceptions", "id", ruleID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save exceptions",
			})
			return
		}
		h.publishPlanChange(r, workspaceID, domain.TopicExceptionsChanged)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":    rule,
		"removed": removed,
	})
}

// BatchExceptionRequest is the request body for POST /exceptions.
type BatchExceptionRequest struct {
	// Action is "add" or "remove".
	Action      string   `json:"action"`
	DistrictIDs []string `json:"districtIds"`

	// RuleIDs limits the change to named rules; empty means every rule.
	RuleIDs []string `json:"ruleIds,omitempty"`
}

// BatchExceptions applies an exception change across rules and districts,
// reporting per rule how many exclusions actually changed.
func (h *Handler) BatchExceptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	var req BatchExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Action != "add" && req.Action != "remove" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action must be 'add' or 'remove'",
		})
		return
	}
	if len(req.DistrictIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "districtIds is required",
		})
		return
	}

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	targets := plan
	if len(req.RuleIDs) > 0 {
		wanted := make(map[string]bool, len(req.RuleIDs))
		for _, id := range req.RuleIDs {
			wanted[id] = true
		}
		targets = make([]*domain.Rule, 0, len(req.RuleIDs))
		for _, rule := range plan {
			if wanted[rule.ID] {
				targets = append(targets, rule)
			}
		}
	}

	var updated []*domain.Rule
	var report rules.ExceptionReport
	if req.Action == "add" {
		updated, report = rules.AddExceptions(targets, req.DistrictIDs)
	} else {
		updated, report = rules.RemoveExceptions(targets, req.DistrictIDs)
	}

	changed := 0
	for i, rule := range updated {
		if rule != targets[i] {
			if err := h.repo.SaveRule(ctx, workspaceID, rule); err != nil {
				slog.Error("failed to save rule exceptions", "id", rule.ID, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save exceptions",
				})
				return
			}
			changed += report[rule.ID]
		}
	}

	if changed > 0 {
		h.publishPlanChange(r, workspaceID, domain.TopicExceptionsChanged)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":  report,
		"changed": changed,
	})
}

// ResolveRequest is the request body for POST /resolve.
type ResolveRequest struct {
	Policy string `json:"policy,omitempty"`

	// MetricTypeIDs forces extra metrics into the table beyond what the
	// plan's criteria reference.
	MetricTypeIDs []int `json:"metricTypeIds,omitempty"`
}

// Resolve runs a full resolution pass over the workspace's districts and
// returns the snapshot.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	traceID := GetTraceID(ctx)

	var req ResolveRequest
	if r.Body != nil {
		// An empty body resolves with the default policy.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	policy := h.defaultPolicy
	if req.Policy != "" {
		policy = domain.Policy(req.Policy)
		if !policy.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown policy '%s'", req.Policy),
			})
			return
		}
	}

	plan, err := h.repo.ListRules(ctx, workspaceID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load plan",
		})
		return
	}

	if h.exprs != nil {
		if err := h.exprs.Reload(plan); err != nil {
			slog.Warn("expression reload reported errors", "error", err)
		}
	}

	table := h.metricTable(r, workspaceID, plan, req.MetricTypeIDs)

	var cat *domain.Catalog
	if h.catalogs != nil {
		cat, err = h.catalogs.Load(ctx, workspaceID)
		if err != nil {
			slog.Warn("catalog unavailable, mix labels will be empty", "error", err)
			cat = nil
		}
	}

	var assignments []domain.DistrictAssignment
	h.store.Update(workspaceID, func(ds []*domain.District) {
		h.resolver.Resolve(ds, plan, table, cat, policy)
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

	if h.repo != nil {
		if err := h.repo.SaveResolution(ctx, workspaceID, res); err != nil {
			slog.Error("failed to save resolution", "id", res.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(res)
		if err := h.bus.Publish(ctx, workspaceID, domain.TopicResolutionCompleted, payload); err != nil {
			slog.Error("failed to publish resolution", "id", res.ID, "error", err)
		}
	}

	observeResolution(string(policy), time.Since(start))

	slog.Info("resolution completed",
		"workspace_id", workspaceID,
		"resolution_id", res.ID,
		"policy", policy,
		"district_count", len(assignments),
		"rule_count", len(plan),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, res)
}

// LatestResolution retrieves the most recent resolution snapshot.
func (h *Handler) LatestResolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	res, err := h.repo.LatestResolution(ctx, workspaceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no resolution found",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GetResolution retrieves a resolution snapshot by ID.
func (h *Handler) GetResolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)
	resID := chi.URLParam(r, "id")

	res, err := h.repo.GetResolution(ctx, workspaceID, resID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "resolution not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ExportCSV streams the district table as CSV, one binary column per
// catalog intervention.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workspaceID := GetWorkspaceID(ctx)

	snapshot := h.store.Snapshot(workspaceID)
	export.SortByName(snapshot)

	var cat *domain.Catalog
	if h.catalogs != nil {
		var err error
		cat, err = h.catalogs.Load(ctx, workspaceID)
		if err != nil {
			slog.Warn("catalog unavailable for export", "error", err)
			cat = nil
		}
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="kestrel-districts.csv"`)

	if err := export.WriteCSV(w, snapshot, cat); err != nil {
		slog.Error("failed to write CSV export", "error", err)
	}
}

// metricTable fetches every metric the plan reads, from structured criteria
// and compiled expressions alike, plus any extras, and shapes them into the
// district-keyed table the matcher reads. Fetch failures degrade to missing
// data rather than failing the request.
func (h *Handler) metricTable(r *http.Request, workspaceID string, plan []*domain.Rule, extra []int) domain.MetricTable {
	if h.metrics == nil {
		return nil
	}

	ids := metric.CriteriaMetricIDs(plan)
	if h.exprs != nil {
		ids = mergeMetricIDs(ids, h.exprs.MetricIDs())
	}
	ids = mergeMetricIDs(ids, extra)

	table, err := h.metrics.Table(r.Context(), workspaceID, ids)
	if err != nil {
		slog.Error("failed to build metric table", "error", err)
		return nil
	}
	return table
}

func mergeMetricIDs(base, extra []int) []int {
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

func (h *Handler) publishPlanChange(r *http.Request, workspaceID, topic string) {
	if h.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"workspaceId": workspaceID,
		"traceId":     GetTraceID(r.Context()),
	})
	if err := h.bus.Publish(r.Context(), workspaceID, topic, payload); err != nil {
		slog.Error("failed to publish plan change", "topic", topic, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
