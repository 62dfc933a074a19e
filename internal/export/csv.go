// Package export renders resolved district assignments into tabular formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/opensource-health/kestrel/internal/domain"
)

// EmptyMixLabel is what an empty intervention mix reads as in exports.
// Inside the engine an empty mix has an empty label; "None" is presentation.
const EmptyMixLabel = "None"

// WriteCSV renders one row per district with a binary column for every
// intervention in the catalog, the mix label, and the rule color. Column
// order follows the catalog's category order so exports are stable.
func WriteCSV(w io.Writer, districts []domain.District, catalog *domain.Catalog) error {
	cw := csv.NewWriter(w)

	type column struct {
		categoryID     int
		interventionID int
	}

	header := []string{"district_id", "district_name", "region"}
	var columns []column
	if catalog != nil {
		for _, cat := range catalog.Categories {
			for _, iv := range cat.Interventions {
				header = append(header, fmt.Sprintf("%s: %s", cat.Name, iv.ShortName))
				columns = append(columns, column{categoryID: cat.ID, interventionID: iv.ID})
			}
		}
	}
	header = append(header, "intervention_mix", "rule_color")

	if err := cw.Write(header); err != nil {
		return err
	}

	for _, d := range districts {
		row := []string{d.ID, d.Name, d.RegionName}
		for _, col := range columns {
			if assigned, ok := d.Assignments[col.categoryID]; ok && assigned == col.interventionID {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}

		label := d.MixLabel
		if label == "" {
			label = EmptyMixLabel
		}
		row = append(row, label, d.Color)

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// SortByName orders districts by display name, then id, for stable exports.
func SortByName(districts []domain.District) {
	sort.Slice(districts, func(i, j int) bool {
		if districts[i].Name != districts[j].Name {
			return districts[i].Name < districts[j].Name
		}
		return districts[i].ID < districts[j].ID
	})
}
