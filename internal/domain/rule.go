package domain

import (
	"math"
	"strconv"
)

// Operator is a comparison operator usable in a rule criterion.
type Operator string

// Supported criterion operators. Anything else evaluates to false.
const (
	OpLess      Operator = "<"
	OpLessEq    Operator = "<="
	OpEqual     Operator = "="
	OpGreaterEq Operator = ">="
	OpGreater   Operator = ">"
)

// Criterion is a single metric comparison: value <op> threshold.
// Threshold keeps the raw string submitted by the planning form;
// only complete criteria participate in matching.
type Criterion struct {
	MetricTypeID *int     `json:"metricTypeId"`
	Operator     Operator `json:"operator"`
	Threshold    string   `json:"threshold"`
}

// Complete reports whether the criterion can be evaluated: a metric type is
// selected and the threshold parses to a finite number.
func (c Criterion) Complete() bool {
	if c.MetricTypeID == nil {
		return false
	}
	_, ok := c.ThresholdValue()
	return ok
}

// ThresholdValue parses the threshold string. ok is false for anything that
// is not a finite number.
func (c Criterion) ThresholdValue() (float64, bool) {
	v, err := strconv.ParseFloat(c.Threshold, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Rule is a user-authored conjunction of metric criteria (or an all-districts
// catch-all) paired with a display color and an intervention payload.
// Rules live in an ordered list; under the exclusive policy later rules
// override earlier ones on districts both match. Rule identity is stable
// across edits: editing replaces the record at its current position.
type Rule struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Title       string `json:"title"`

	// Display color as a hex string, e.g. "#d04f4f".
	Color string `json:"color"`

	// Criteria are AND-ed. An empty list with AllDistricts unset matches
	// nothing; with AllDistricts set the criteria are ignored entirely.
	Criteria     []Criterion `json:"criteria"`
	AllDistricts bool        `json:"isAllDistricts"`

	// Expression is an optional CEL criteria form evaluated over the
	// district's metric row. AND-ed with Criteria when both are present.
	Expression string `json:"expression,omitempty"`

	// Interventions is the payload applied on match: category id to
	// intervention id, at most one intervention per category.
	Interventions map[int]int `json:"interventionsByCategory"`

	// ExcludedDistrictIDs are carved out of this rule's match set
	// regardless of criteria. Ids are unique.
	ExcludedDistrictIDs []string `json:"excludedDistrictIds,omitempty"`

	// Visible defaults to true when nil. Invisible rules are skipped
	// entirely during resolution.
	Visible *bool `json:"isVisible,omitempty"`

	// Coverage is a per-category coverage percentage, display only.
	Coverage map[int]float64 `json:"coverageByCategory,omitempty"`

	// Position is the rule's index in the ordered plan.
	Position int `json:"position"`
}

// IsVisible reports whether the rule participates in resolution.
func (r *Rule) IsVisible() bool {
	return r.Visible == nil || *r.Visible
}

// Excludes reports whether the district is on the rule's exception list.
func (r *Rule) Excludes(districtID string) bool {
	for _, id := range r.ExcludedDistrictIDs {
		if id == districtID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Edits and exception changes operate on copies so
// a resolution pass always sees an immutable plan snapshot.
func (r *Rule) Clone() *Rule {
	out := *r
	if r.Criteria != nil {
		out.Criteria = make([]Criterion, len(r.Criteria))
		copy(out.Criteria, r.Criteria)
	}
	if r.Interventions != nil {
		out.Interventions = make(map[int]int, len(r.Interventions))
		for k, v := range r.Interventions {
			out.Interventions[k] = v
		}
	}
	if r.ExcludedDistrictIDs != nil {
		out.ExcludedDistrictIDs = make([]string, len(r.ExcludedDistrictIDs))
		copy(out.ExcludedDistrictIDs, r.ExcludedDistrictIDs)
	}
	if r.Coverage != nil {
		out.Coverage = make(map[int]float64, len(r.Coverage))
		for k, v := range r.Coverage {
			out.Coverage[k] = v
		}
	}
	if r.Visible != nil {
		v := *r.Visible
		out.Visible = &v
	}
	return &out
}
