package rules

import (
	"sort"
	"strings"

	"github.com/opensource-health/kestrel/internal/domain"
)

// BuildMix resolves a sparse category→intervention selection into a Mix.
// The display label sorts category ids ascending and joins the interventions'
// short names with " + "; interventions the catalog cannot resolve contribute
// no segment, and an empty result is the empty string.
func BuildMix(selections map[int]int, catalog *domain.Catalog) domain.Mix {
	assignments := make(map[int]int, len(selections))
	for categoryID, interventionID := range selections {
		assignments[categoryID] = interventionID
	}
	return domain.Mix{
		Assignments: assignments,
		Label:       mixLabel(assignments, catalog),
	}
}

// MergeMix overlays incoming onto existing: incoming wins per category,
// categories only existing carries survive untouched. When existing is nil
// the result is incoming unchanged. The label is recomputed from the merged
// map with the same sort-and-join rule as BuildMix, never concatenated.
func MergeMix(existing *domain.Mix, incoming domain.Mix, catalog *domain.Catalog) domain.Mix {
	if existing == nil {
		return BuildMix(incoming.Assignments, catalog)
	}
	merged := make(map[int]int, len(existing.Assignments)+len(incoming.Assignments))
	for categoryID, interventionID := range existing.Assignments {
		merged[categoryID] = interventionID
	}
	for categoryID, interventionID := range incoming.Assignments {
		merged[categoryID] = interventionID
	}
	return domain.Mix{
		Assignments: merged,
		Label:       mixLabel(merged, catalog),
	}
}

func mixLabel(assignments map[int]int, catalog *domain.Catalog) string {
	if len(assignments) == 0 || catalog == nil {
		return ""
	}
	ids := make([]int, 0, len(assignments))
	for categoryID := range assignments {
		ids = append(ids, categoryID)
	}
	sort.Ints(ids)

	names := make([]string, 0, len(ids))
	for _, categoryID := range ids {
		if name, ok := catalog.ShortName(categoryID, assignments[categoryID]); ok && name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, " + ")
}
