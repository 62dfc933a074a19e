package rules

import (
	"testing"

	"github.com/opensource-health/kestrel/internal/domain"
)

// testCatalog mirrors a small malaria intervention catalog: vector control,
// chemoprevention, and case management categories.
func testCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.Category{
		{ID: 1, Name: "Vector Control", Interventions: []domain.Intervention{
			{ID: 10, Name: "Insecticide-treated nets", ShortName: "ITN", Code: "VC-ITN"},
			{ID: 11, Name: "Indoor residual spraying", ShortName: "IRS", Code: "VC-IRS"},
		}},
		{ID: 2, Name: "Chemoprevention", Interventions: []domain.Intervention{
			{ID: 20, Name: "Seasonal malaria chemoprevention", ShortName: "SMC", Code: "CP-SMC"},
			{ID: 30, Name: "Intermittent preventive treatment", ShortName: "IPTp", Code: "CP-IPT"},
		}},
		{ID: 3, Name: "Case Management", Interventions: []domain.Intervention{
			{ID: 40, Name: "Community case management", ShortName: "CCM", Code: "CM-CCM"},
		}},
	})
}

func TestBuildMix(t *testing.T) {
	catalog := testCatalog()

	t.Run("LabelSortedByCategoryID", func(t *testing.T) {
		// Insertion order must not matter: label always sorts category ids.
		mix := BuildMix(map[int]int{3: 40, 1: 10, 2: 20}, catalog)
		if mix.Label != "ITN + SMC + CCM" {
			t.Errorf("expected 'ITN + SMC + CCM', got %q", mix.Label)
		}
		if len(mix.Assignments) != 3 {
			t.Errorf("expected 3 assignments, got %d", len(mix.Assignments))
		}
	})

	t.Run("EmptySelection", func(t *testing.T) {
		mix := BuildMix(nil, catalog)
		if mix.Label != "" {
			t.Errorf("empty selection must yield empty label, got %q", mix.Label)
		}
		if !mix.Empty() {
			t.Error("expected empty mix")
		}
	})

	t.Run("UnresolvableIDsSkipped", func(t *testing.T) {
		mix := BuildMix(map[int]int{1: 10, 9: 99}, catalog)
		if mix.Label != "ITN" {
			t.Errorf("unknown category must contribute no segment, got %q", mix.Label)
		}
		// The assignment itself is kept; only the label lookup is skipped.
		if mix.Assignments[9] != 99 {
			t.Error("unresolvable assignment should survive in the map")
		}
	})

	t.Run("AllUnresolvable", func(t *testing.T) {
		mix := BuildMix(map[int]int{9: 99}, catalog)
		if mix.Label != "" {
			t.Errorf("expected empty label, got %q", mix.Label)
		}
	})

	t.Run("DoesNotAliasInput", func(t *testing.T) {
		selections := map[int]int{1: 10}
		mix := BuildMix(selections, catalog)
		selections[2] = 20
		if len(mix.Assignments) != 1 {
			t.Error("mix must copy its input selection map")
		}
	})
}

func TestMergeMix(t *testing.T) {
	catalog := testCatalog()

	t.Run("IncomingWinsPerCategory", func(t *testing.T) {
		existing := BuildMix(map[int]int{1: 10, 2: 20}, catalog)
		incoming := BuildMix(map[int]int{2: 30, 3: 40}, catalog)

		merged := MergeMix(&existing, incoming, catalog)

		want := map[int]int{1: 10, 2: 30, 3: 40}
		if len(merged.Assignments) != len(want) {
			t.Fatalf("expected %d assignments, got %d", len(want), len(merged.Assignments))
		}
		for categoryID, interventionID := range want {
			if merged.Assignments[categoryID] != interventionID {
				t.Errorf("category %d: expected %d, got %d", categoryID, interventionID, merged.Assignments[categoryID])
			}
		}
		if merged.Label != "ITN + IPTp + CCM" {
			t.Errorf("expected label rebuilt from merged map, got %q", merged.Label)
		}
	})

	t.Run("NilExisting", func(t *testing.T) {
		incoming := BuildMix(map[int]int{1: 11}, catalog)
		merged := MergeMix(nil, incoming, catalog)
		if merged.Label != "IRS" {
			t.Errorf("expected incoming unchanged, got %q", merged.Label)
		}
	})

	t.Run("ExistingUntouched", func(t *testing.T) {
		existing := BuildMix(map[int]int{1: 10}, catalog)
		incoming := BuildMix(map[int]int{1: 11}, catalog)
		MergeMix(&existing, incoming, catalog)
		if existing.Assignments[1] != 10 {
			t.Error("merge must not mutate the existing mix")
		}
	})
}
