package domain

// MetricType identifies a quantitative district attribute, e.g. seasonality
// or under-five mortality. Immutable reference data, loaded once.
type MetricType struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit,omitempty"`
}

// MetricTable is the engine's read-only metric input, keyed district id then
// metric type id. Missing entries are a first-class state: a criterion over
// a missing value simply fails to match.
type MetricTable map[string]map[int]float64

// ForDistrict returns the district's metric row, which may be nil.
func (t MetricTable) ForDistrict(districtID string) map[int]float64 {
	return t[districtID]
}

// District is the smallest administrative geographic unit subject to rule
// matching. Districts are created once from an external geographic source and
// then repeatedly mutated in place by the resolution engine; the derived
// fields (Assignments, MixLabel, Color, CategoryColors) are fully overwritten
// on every pass.
type District struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RegionID   string `json:"regionId,omitempty"`
	RegionName string `json:"regionName,omitempty"`

	// Assignments maps category id to the assigned intervention id.
	Assignments map[int]int `json:"interventionCategoryAssignments"`

	// MixLabel is the derived display string for Assignments. It is a pure
	// projection: recomputed whenever the assignment map changes.
	MixLabel string `json:"interventionMixLabel"`

	// Color is the derived display color from the rules that matched.
	Color string `json:"ruleColor"`

	// CategoryColors maps category id to the color of the rule that
	// contributed that category's current assignment, for tooltips.
	CategoryColors map[int]string `json:"categoryColors,omitempty"`
}

// ResetAssignment returns the district to the clean no-assignment baseline a
// resolution pass starts from.
func (d *District) ResetAssignment() {
	d.Assignments = map[int]int{}
	d.MixLabel = ""
	d.Color = ""
	d.CategoryColors = map[int]string{}
}

// Clone returns a deep copy for read-side consumers.
func (d *District) Clone() District {
	out := *d
	out.Assignments = make(map[int]int, len(d.Assignments))
	for k, v := range d.Assignments {
		out.Assignments[k] = v
	}
	out.CategoryColors = make(map[int]string, len(d.CategoryColors))
	for k, v := range d.CategoryColors {
		out.CategoryColors[k] = v
	}
	return out
}
