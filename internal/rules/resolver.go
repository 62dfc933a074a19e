package rules

import (
	"github.com/opensource-health/kestrel/internal/domain"
)

// Resolver drives rule matching across a district set and writes the net
// intervention mix and display color back onto each district.
//
// Resolution is a stateless recomputation: every pass resets each district to
// the no-assignment baseline before applying rules, so the final state is a
// pure function of (ordered visible rules, metric table, policy) and
// re-running with unchanged inputs is idempotent.
type Resolver struct {
	exprs *Expressions
}

// NewResolver creates a resolver. exprs may be nil, in which case
// expression-form rules match nothing.
func NewResolver(exprs *Expressions) *Resolver {
	return &Resolver{exprs: exprs}
}

// Resolve applies the plan's visible rules, in list order, to every district
// under the given composition policy. The districts' derived fields are fully
// overwritten; no state from a previous rule set survives the pass.
func (r *Resolver) Resolve(districts []*domain.District, plan []*domain.Rule, table domain.MetricTable, catalog *domain.Catalog, policy domain.Policy) {
	for _, d := range districts {
		d.ResetAssignment()
	}

	visible := VisibleRules(plan)

	switch policy {
	case domain.PolicyCumulative:
		r.resolveCumulative(districts, visible, table, catalog)
	default:
		r.resolveExclusive(districts, visible, table, catalog)
	}
}

// resolveExclusive is last-match-wins: rules are processed in list order and
// each matching rule replaces, not merges, the district's previous mix and
// color. An all-districts rule computes its mix once and applies it as the
// baseline to every district it does not exclude.
func (r *Resolver) resolveExclusive(districts []*domain.District, visible []*domain.Rule, table domain.MetricTable, catalog *domain.Catalog) {
	for _, rule := range visible {
		mix := BuildMix(rule.Interventions, catalog)
		for _, d := range districts {
			if !r.applies(d.ID, rule, table.ForDistrict(d.ID)) {
				continue
			}
			d.Assignments = copyAssignments(mix.Assignments)
			d.MixLabel = mix.Label
			d.Color = rule.Color
			d.CategoryColors = map[int]string{}
			for categoryID := range rule.Interventions {
				d.CategoryColors[categoryID] = rule.Color
			}
		}
	}
}

// resolveCumulative is additive: for each district the payloads of every
// matching rule are merged in list order, later rules winning per category
// while categories only earlier rules specify survive. The district color is
// the last matching rule's color; see LastMatchingRuleColor for the
// convenience query secondary views use. A matching rule with an empty
// payload contributes its color but no intervention categories.
func (r *Resolver) resolveCumulative(districts []*domain.District, visible []*domain.Rule, table domain.MetricTable, catalog *domain.Catalog) {
	for _, d := range districts {
		metrics := table.ForDistrict(d.ID)

		var mix *domain.Mix
		for _, rule := range visible {
			if !r.applies(d.ID, rule, metrics) {
				continue
			}
			d.Color = rule.Color
			if len(rule.Interventions) == 0 {
				continue
			}
			merged := MergeMix(mix, BuildMix(rule.Interventions, catalog), catalog)
			mix = &merged
			for categoryID := range rule.Interventions {
				d.CategoryColors[categoryID] = rule.Color
			}
		}

		if mix != nil {
			d.Assignments = mix.Assignments
			d.MixLabel = mix.Label
		}
	}
}

// LastMatchingRuleColor returns the color of the last visible rule in list
// order that applies to the district, or "" when none match. Secondary views
// (list-row highlighting) use this instead of the full per-category colors.
func (r *Resolver) LastMatchingRuleColor(districtID string, plan []*domain.Rule, table domain.MetricTable) string {
	metrics := table.ForDistrict(districtID)
	color := ""
	for _, rule := range VisibleRules(plan) {
		if r.applies(districtID, rule, metrics) {
			color = rule.Color
		}
	}
	return color
}

// applies extends Matches with the expression criteria form. Exclusion and
// the all-districts flag keep their precedence; an expression rule with no
// compiled program fails closed.
func (r *Resolver) applies(districtID string, rule *domain.Rule, metrics map[int]float64) bool {
	if rule.Excludes(districtID) {
		return false
	}
	if rule.AllDistricts {
		return true
	}
	if rule.Expression != "" {
		if r.exprs == nil || !r.exprs.Eval(rule.ID, districtID, metrics) {
			return false
		}
		// Structured criteria, when present, are AND-ed with the expression.
		for _, c := range rule.Criteria {
			if !criterionMatches(c, metrics) {
				return false
			}
		}
		return true
	}
	return Matches(districtID, rule, metrics)
}

// Assignments extracts the per-district assignment table a pass produced,
// in district order, for snapshots and API responses.
func Assignments(districts []*domain.District) []domain.DistrictAssignment {
	out := make([]domain.DistrictAssignment, 0, len(districts))
	for _, d := range districts {
		out = append(out, domain.DistrictAssignment{
			DistrictID:     d.ID,
			DistrictName:   d.Name,
			Assignments:    copyAssignments(d.Assignments),
			MixLabel:       d.MixLabel,
			Color:          d.Color,
			CategoryColors: copyColors(d.CategoryColors),
		})
	}
	return out
}

func copyAssignments(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyColors(in map[int]string) map[int]string {
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
