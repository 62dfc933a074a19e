package rules

import (
	"github.com/opensource-health/kestrel/internal/domain"
)

// Matches reports whether a rule applies to a district given the district's
// metric row. Exclusion takes precedence over everything, including the
// all-districts flag. A rule with no criteria that is not flagged
// all-districts matches nothing. Both composition policies share this
// primitive so the conjunctive-criteria semantics live in one place.
func Matches(districtID string, rule *domain.Rule, metrics map[int]float64) bool {
	if rule == nil {
		return false
	}
	if rule.Excludes(districtID) {
		return false
	}
	if rule.AllDistricts {
		return true
	}
	if len(rule.Criteria) == 0 {
		return false
	}
	for _, c := range rule.Criteria {
		if !criterionMatches(c, metrics) {
			return false
		}
	}
	return true
}

// criterionMatches evaluates one criterion against a metric row. Incomplete
// criteria never match, and missing metric data fails the criterion rather
// than erroring.
func criterionMatches(c domain.Criterion, metrics map[int]float64) bool {
	if c.MetricTypeID == nil {
		return false
	}
	threshold, ok := c.ThresholdValue()
	if !ok {
		return false
	}
	value, ok := metrics[*c.MetricTypeID]
	if !ok {
		return false
	}
	return EvaluateCriterion(value, c.Operator, threshold)
}

// VisibleRules filters invisible rules, preserving plan order.
func VisibleRules(plan []*domain.Rule) []*domain.Rule {
	out := make([]*domain.Rule, 0, len(plan))
	for _, r := range plan {
		if r != nil && r.IsVisible() {
			out = append(out, r)
		}
	}
	return out
}
