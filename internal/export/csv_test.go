package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/opensource-health/kestrel/internal/domain"
)

func testCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.Category{
		{ID: 1, Name: "Vector Control", Interventions: []domain.Intervention{
			{ID: 10, Name: "Insecticide-treated nets", ShortName: "ITN"},
			{ID: 11, Name: "Indoor residual spraying", ShortName: "IRS"},
		}},
		{ID: 2, Name: "Chemoprevention", Interventions: []domain.Intervention{
			{ID: 20, Name: "Seasonal malaria chemoprevention", ShortName: "SMC"},
		}},
	})
}

func TestWriteCSV(t *testing.T) {
	districts := []domain.District{
		{
			ID:          "1001",
			Name:        "Bougouni",
			RegionName:  "Sikasso",
			Assignments: map[int]int{1: 10, 2: 20},
			MixLabel:    "ITN + SMC",
			Color:       "#d04f4f",
		},
		{
			ID:   "1002",
			Name: "Kati",
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, districts, testCatalog()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}

	header := records[0]
	want := []string{
		"district_id", "district_name", "region",
		"Vector Control: ITN", "Vector Control: IRS", "Chemoprevention: SMC",
		"intervention_mix", "rule_color",
	}
	if len(header) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(header), header)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("column %d: expected %q, got %q", i, want[i], header[i])
		}
	}

	row := records[1]
	if row[0] != "1001" || row[1] != "Bougouni" || row[2] != "Sikasso" {
		t.Errorf("unexpected identity columns: %v", row[:3])
	}
	if row[3] != "1" || row[4] != "0" || row[5] != "1" {
		t.Errorf("expected ITN=1 IRS=0 SMC=1, got %v", row[3:6])
	}
	if row[6] != "ITN + SMC" || row[7] != "#d04f4f" {
		t.Errorf("unexpected mix/color: %v", row[6:])
	}
}

func TestWriteCSVEmptyMixReadsAsNone(t *testing.T) {
	districts := []domain.District{{ID: "1002", Name: "Kati"}}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, districts, testCatalog()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, _ := csv.NewReader(&buf).ReadAll()
	row := records[1]
	if row[len(row)-2] != "None" {
		t.Errorf("expected empty mix to export as None, got %q", row[len(row)-2])
	}
	if row[len(row)-1] != "" {
		t.Errorf("expected empty color, got %q", row[len(row)-1])
	}
}

func TestWriteCSVZeroInterventionID(t *testing.T) {
	catalog := domain.NewCatalog([]domain.Category{
		{ID: 1, Name: "Vector Control", Interventions: []domain.Intervention{
			{ID: 0, Name: "No intervention", ShortName: "NONE"},
			{ID: 10, Name: "Insecticide-treated nets", ShortName: "ITN"},
		}},
	})
	districts := []domain.District{
		{ID: "1001", Name: "Bougouni", Assignments: map[int]int{1: 0}, MixLabel: "NONE"},
		{ID: "1002", Name: "Kati"},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, districts, catalog); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, _ := csv.NewReader(&buf).ReadAll()

	// 1001 explicitly carries intervention 0; 1002 has no assignment at all.
	if records[1][3] != "1" {
		t.Errorf("expected explicit zero-id assignment marked, got %q", records[1][3])
	}
	if records[2][3] != "0" {
		t.Errorf("expected unassigned district unmarked for zero-id intervention, got %q", records[2][3])
	}
}

func TestWriteCSVNilCatalog(t *testing.T) {
	districts := []domain.District{{ID: "1001", Name: "Bougouni"}}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, districts, nil); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, _ := csv.NewReader(&buf).ReadAll()
	if len(records[0]) != 5 {
		t.Errorf("expected 5 columns without catalog, got %d", len(records[0]))
	}
}

func TestSortByName(t *testing.T) {
	districts := []domain.District{
		{ID: "3", Name: "Kati"},
		{ID: "2", Name: "Bougouni"},
		{ID: "1", Name: "Kati"},
	}

	SortByName(districts)

	if districts[0].Name != "Bougouni" {
		t.Errorf("expected Bougouni first, got %s", districts[0].Name)
	}
	if districts[1].ID != "1" || districts[2].ID != "3" {
		t.Errorf("expected id tiebreak, got %s then %s", districts[1].ID, districts[2].ID)
	}
}
