package rules

import (
	"github.com/opensource-health/kestrel/internal/domain"
)

// AddException returns a rule whose exclusion list contains districtID
// exactly once. The input rule is never mutated; when the district is
// already excluded the original rule is returned unchanged and added is
// false. Excluding a district a rule does not currently match is permitted
// and inert until the rule starts matching it.
func AddException(rule *domain.Rule, districtID string) (*domain.Rule, bool) {
	if rule == nil || districtID == "" {
		return rule, false
	}
	if rule.Excludes(districtID) {
		return rule, false
	}
	out := rule.Clone()
	out.ExcludedDistrictIDs = append(out.ExcludedDistrictIDs, districtID)
	return out, true
}

// RemoveException returns a rule with districtID removed from the exclusion
// list; no-op when it was not excluded.
func RemoveException(rule *domain.Rule, districtID string) (*domain.Rule, bool) {
	if rule == nil || !rule.Excludes(districtID) {
		return rule, false
	}
	out := rule.Clone()
	kept := out.ExcludedDistrictIDs[:0]
	for _, id := range out.ExcludedDistrictIDs {
		if id != districtID {
			kept = append(kept, id)
		}
	}
	out.ExcludedDistrictIDs = kept
	return out, true
}

// ExceptionReport maps rule id to the number of districts whose exclusion
// state actually changed, distinguishing "already excluded" from "newly
// excluded" for user-facing counts.
type ExceptionReport map[string]int

// AddExceptions excludes every district from every rule. Rules are returned
// in their original order; unchanged rules keep their original pointer.
func AddExceptions(plan []*domain.Rule, districtIDs []string) ([]*domain.Rule, ExceptionReport) {
	report := make(ExceptionReport, len(plan))
	out := make([]*domain.Rule, len(plan))
	for i, rule := range plan {
		current := rule
		for _, districtID := range districtIDs {
			next, added := AddException(current, districtID)
			if added {
				report[rule.ID]++
			}
			current = next
		}
		out[i] = current
	}
	return out, report
}

// RemoveExceptions lifts every district's exclusion from every rule,
// reporting per rule how many exclusions were actually removed.
func RemoveExceptions(plan []*domain.Rule, districtIDs []string) ([]*domain.Rule, ExceptionReport) {
	report := make(ExceptionReport, len(plan))
	out := make([]*domain.Rule, len(plan))
	for i, rule := range plan {
		current := rule
		for _, districtID := range districtIDs {
			next, removed := RemoveException(current, districtID)
			if removed {
				report[rule.ID]++
			}
			current = next
		}
		out[i] = current
	}
	return out, report
}
