package domain

// Intervention is one selectable option within a category, e.g. an ITN
// campaign within the vector-control category.
type Intervention struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ShortName   string `json:"short_name"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Category groups the interventions a rule may assign for one concern.
type Category struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	Interventions []Intervention `json:"interventions"`
}

// Catalog is the read-only category/intervention reference data, used only
// for display-name lookup during mix building.
type Catalog struct {
	Categories []Category `json:"categories"`
}

// NewCatalog wraps an ordered category list.
func NewCatalog(categories []Category) *Catalog {
	return &Catalog{Categories: categories}
}

// Category returns the category with the given id.
func (c *Catalog) Category(id int) (*Category, bool) {
	for i := range c.Categories {
		if c.Categories[i].ID == id {
			return &c.Categories[i], true
		}
	}
	return nil, false
}

// ShortName resolves an intervention's short display name within a category.
// Unresolvable ids report ok=false and are silently skipped by label builders.
func (c *Catalog) ShortName(categoryID, interventionID int) (string, bool) {
	cat, ok := c.Category(categoryID)
	if !ok {
		return "", false
	}
	for _, iv := range cat.Interventions {
		if iv.ID == interventionID {
			return iv.ShortName, true
		}
	}
	return "", false
}

// Mix is a transient value type: the resolved set of category→intervention
// choices plus its derived display label. The label is always rebuilt from
// the assignment map with category ids sorted ascending, so it is
// deterministic regardless of insertion order.
type Mix struct {
	Assignments map[int]int `json:"categoryAssignments"`
	Label       string      `json:"displayLabel"`
}

// Empty reports whether the mix carries no assignments.
func (m Mix) Empty() bool {
	return len(m.Assignments) == 0
}

// Policy selects how multiple matching rules compose on one district.
type Policy string

const (
	// PolicyExclusive is last-match-wins: the final color and full mix are
	// those of the last visible rule in list order that matches.
	PolicyExclusive Policy = "exclusive"

	// PolicyCumulative is additive: every matching rule's payload is merged
	// in list order, later rules winning per category.
	PolicyCumulative Policy = "cumulative"
)

// Valid reports whether p is a recognized policy.
func (p Policy) Valid() bool {
	return p == PolicyExclusive || p == PolicyCumulative
}
