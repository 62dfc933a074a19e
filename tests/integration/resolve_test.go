//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel planning engine.
//
// These tests verify the COMPLETE planning pipeline:
//
//	Districts → Rules → Matching → Mix Composition → Resolution Snapshot
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. DISTRICT: The smallest administrative geographic unit. Districts carry
//    metric values (e.g. transmission seasonality, under-five mortality).
//
// 2. RULE: A planner-authored pattern. Each rule has:
//   - Criteria: AND-ed metric comparisons (metric <op> threshold)
//   - AllDistricts: catch-all flag that matches every district
//   - Interventions: the payload applied on match (category → intervention)
//   - Exclusions: districts carved out of the match set regardless of criteria
//
// 3. POLICY: How multiple matching rules compose on one district:
//   - exclusive:  last match wins, whole payload replaces
//   - cumulative: payloads merge in plan order, later rules win per category
//
// 4. RESOLUTION: One full pass over every district. Districts are reset to a
//    clean baseline first, so a pass is idempotent.
//
// The tests assume a running server with a reachable metric source that
// serves metric type 12 (seasonality) for districts 1001 and 1002, with 1001
// above 0.6 and 1002 below, and a catalog where category 1 holds ITN (10)
// and IRS (11) and category 2 holds SMC (20). Point KESTREL_TEST_URL at the
// server under test.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL     string
	WorkspaceID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:     baseURL,
		WorkspaceID: fmt.Sprintf("integration-%d", time.Now().UnixNano()),
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type District struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RegionName  string         `json:"regionName,omitempty"`
	Assignments map[string]int `json:"interventionCategoryAssignments"`
	MixLabel    string         `json:"interventionMixLabel"`
	Color       string         `json:"ruleColor"`
}

type Rule struct {
	ID            string         `json:"id,omitempty"`
	Title         string         `json:"title"`
	Color         string         `json:"color,omitempty"`
	Criteria      []Criterion    `json:"criteria,omitempty"`
	AllDistricts  bool           `json:"isAllDistricts,omitempty"`
	Interventions map[string]int `json:"interventionsByCategory,omitempty"`
	Excluded      []string       `json:"excludedDistrictIds,omitempty"`
	Position      int            `json:"position"`
}

type Criterion struct {
	MetricTypeID int    `json:"metricTypeId"`
	Operator     string `json:"operator"`
	Threshold    string `json:"threshold"`
}

type Resolution struct {
	ID        string `json:"id"`
	Policy    string `json:"policy"`
	Districts []struct {
		DistrictID string `json:"districtId"`
		MixLabel   string `json:"interventionMixLabel"`
		Color      string `json:"ruleColor"`
	} `json:"districts"`
	Metadata struct {
		DistrictCount int    `json:"districtCount"`
		RuleCount     int    `json:"ruleCount"`
		EngineVersion string `json:"engineVersion"`
	} `json:"metadata"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, reqBody, respBody interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Workspace-ID", config.WorkspaceID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(raw))
		}
	}

	return resp.StatusCode
}

func loadDistricts(t *testing.T, config TestConfig) {
	t.Helper()

	body := map[string]interface{}{
		"districts": []map[string]string{
			{"id": "1001", "name": "Bougouni", "regionName": "Sikasso"},
			{"id": "1002", "name": "Kati", "regionName": "Koulikoro"},
		},
	}
	if code := call(t, config, "PUT", "/districts", body, nil); code != http.StatusOK {
		t.Fatalf("Expected 200 loading districts, got %d", code)
	}
}

func createRule(t *testing.T, config TestConfig, rule Rule) Rule {
	t.Helper()

	var created Rule
	if code := call(t, config, "POST", "/rules", rule, &created); code != http.StatusCreated {
		t.Fatalf("Expected 201 creating rule, got %d", code)
	}
	return created
}

func resolve(t *testing.T, config TestConfig, policy string) Resolution {
	t.Helper()

	var res Resolution
	body := map[string]string{"policy": policy}
	if code := call(t, config, "POST", "/resolve", body, &res); code != http.StatusOK {
		t.Fatalf("Expected 200 resolving, got %d", code)
	}
	return res
}

func districtResult(t *testing.T, res Resolution, id string) (label, color string) {
	t.Helper()

	for _, d := range res.Districts {
		if d.DistrictID == id {
			return d.MixLabel, d.Color
		}
	}
	t.Fatalf("District %s missing from resolution", id)
	return "", ""
}

// ============================================================================
// SCENARIO 1: Criteria Rule Splits Districts
// ============================================================================

func TestCriteriaRule_SplitsDistricts(t *testing.T) {
	/*
	   SCENARIO: One rule targeting high-seasonality districts

	   EXPECTED BEHAVIOR:
	   - 1001 (seasonality 0.8) matches → gets ITN, rule color
	   - 1002 (seasonality 0.4) does not match → stays at clean baseline

	   WHY THIS TEST:
	   The fundamental engine contract: criteria are evaluated against live
	   metric data and only matching districts receive the payload.
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	createRule(t, config, Rule{
		Title:         "High transmission",
		Color:         "#d04f4f",
		Criteria:      []Criterion{{MetricTypeID: 12, Operator: ">=", Threshold: "0.6"}},
		Interventions: map[string]int{"1": 10},
	})

	res := resolve(t, config, "exclusive")

	if res.Metadata.DistrictCount != 2 || res.Metadata.RuleCount != 1 {
		t.Errorf("Expected 2 districts / 1 rule, got %+v", res.Metadata)
	}

	label, color := districtResult(t, res, "1001")
	if label != "ITN" || color != "#d04f4f" {
		t.Errorf("Expected 1001 to match (ITN, #d04f4f), got (%s, %s)", label, color)
	}

	label, color = districtResult(t, res, "1002")
	if label != "" || color != "" {
		t.Errorf("Expected 1002 clean, got (%s, %s)", label, color)
	}

	t.Logf("✓ Criteria rule split districts correctly")
}

// ============================================================================
// SCENARIO 2: Exclusive Policy - Last Match Wins
// ============================================================================

func TestExclusivePolicy_LastMatchWins(t *testing.T) {
	/*
	   SCENARIO: A catch-all baseline rule followed by a targeted override

	   EXPECTED BEHAVIOR:
	   - 1002 only matches the baseline → keeps the baseline payload
	   - 1001 matches both → the LATER rule's payload fully replaces the
	     baseline, including categories the later rule does not set

	   WHY THIS TEST:
	   Exclusive is replace-not-merge. A district matching rules 1 and 3
	   ends up exactly as if only rule 3 existed.
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	createRule(t, config, Rule{
		Title:         "National baseline",
		Color:         "#3366cc",
		AllDistricts:  true,
		Interventions: map[string]int{"1": 10, "2": 20},
	})
	createRule(t, config, Rule{
		Title:         "High transmission override",
		Color:         "#d04f4f",
		Criteria:      []Criterion{{MetricTypeID: 12, Operator: ">=", Threshold: "0.6"}},
		Interventions: map[string]int{"1": 11},
	})

	res := resolve(t, config, "exclusive")

	label, color := districtResult(t, res, "1001")
	if color != "#d04f4f" {
		t.Errorf("Expected override color on 1001, got %s", color)
	}
	if strings.Contains(label, "SMC") {
		t.Errorf("Expected baseline chemoprevention replaced on 1001, got %s", label)
	}

	_, color = districtResult(t, res, "1002")
	if color != "#3366cc" {
		t.Errorf("Expected baseline color on 1002, got %s", color)
	}

	t.Logf("✓ Exclusive policy replaced the whole payload")
}

// ============================================================================
// SCENARIO 3: Cumulative Policy - Payloads Merge
// ============================================================================

func TestCumulativePolicy_PayloadsMerge(t *testing.T) {
	/*
	   SCENARIO: Same two rules, cumulative policy

	   EXPECTED BEHAVIOR:
	   - 1001 matches both rules: category 1 taken from the later rule,
	     category 2 survives from the baseline → a merged mix
	   - District color is the last matching rule's

	   WHY THIS TEST:
	   Cumulative is the union-with-override semantics planners use to
	   layer targeted interventions on top of a national baseline.
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	createRule(t, config, Rule{
		Title:         "National baseline",
		Color:         "#3366cc",
		AllDistricts:  true,
		Interventions: map[string]int{"1": 10, "2": 20},
	})
	createRule(t, config, Rule{
		Title:         "High transmission override",
		Color:         "#d04f4f",
		Criteria:      []Criterion{{MetricTypeID: 12, Operator: ">=", Threshold: "0.6"}},
		Interventions: map[string]int{"1": 11},
	})

	res := resolve(t, config, "cumulative")

	label, color := districtResult(t, res, "1001")
	if color != "#d04f4f" {
		t.Errorf("Expected last matching rule color on 1001, got %s", color)
	}
	if !strings.Contains(label, "SMC") {
		t.Errorf("Expected baseline category to survive the merge, got %s", label)
	}
	if !strings.Contains(label, "IRS") || strings.Contains(label, "ITN") {
		t.Errorf("Expected category 1 overridden by later rule, got %s", label)
	}

	t.Logf("✓ Cumulative policy merged payloads: %s", label)
}

// ============================================================================
// SCENARIO 4: Exceptions Carve Districts Out
// ============================================================================

func TestExceptions_CarveOutDistrict(t *testing.T) {
	/*
	   SCENARIO: A catch-all rule, then 1001 is excluded from it

	   EXPECTED BEHAVIOR:
	   - Before: both districts carry the payload
	   - After excluding 1001 and re-resolving: 1001 is back at the clean
	     baseline even though its metrics still satisfy the rule

	   WHY THIS TEST:
	   Exclusion beats everything, including the all-districts flag.
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	rule := createRule(t, config, Rule{
		Title:         "National baseline",
		Color:         "#3366cc",
		AllDistricts:  true,
		Interventions: map[string]int{"1": 10},
	})

	res := resolve(t, config, "exclusive")
	if label, _ := districtResult(t, res, "1001"); label == "" {
		t.Fatalf("Expected 1001 assigned before exception")
	}

	body := map[string][]string{"districtIds": {"1001"}}
	if code := call(t, config, "POST", "/rules/"+rule.ID+"/exceptions", body, nil); code != http.StatusOK {
		t.Fatalf("Expected 200 adding exception, got %d", code)
	}

	res = resolve(t, config, "exclusive")
	label, color := districtResult(t, res, "1001")
	if label != "" || color != "" {
		t.Errorf("Expected 1001 clean after exception, got (%s, %s)", label, color)
	}
	if label, _ = districtResult(t, res, "1002"); label == "" {
		t.Errorf("Expected 1002 still assigned")
	}

	t.Logf("✓ Exception carved 1001 out of the catch-all")
}

// ============================================================================
// SCENARIO 5: Resolution Is Idempotent
// ============================================================================

func TestResolve_Idempotent(t *testing.T) {
	/*
	   SCENARIO: The same pass run twice in a row

	   EXPECTED BEHAVIOR:
	   Identical per-district output. Each pass resets districts to the
	   clean baseline first, so no state leaks between passes.
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	createRule(t, config, Rule{
		Title:         "High transmission",
		Color:         "#d04f4f",
		Criteria:      []Criterion{{MetricTypeID: 12, Operator: ">=", Threshold: "0.6"}},
		Interventions: map[string]int{"1": 10},
	})

	first := resolve(t, config, "exclusive")
	second := resolve(t, config, "exclusive")

	for _, id := range []string{"1001", "1002"} {
		l1, c1 := districtResult(t, first, id)
		l2, c2 := districtResult(t, second, id)
		if l1 != l2 || c1 != c2 {
			t.Errorf("District %s diverged between passes: (%s,%s) vs (%s,%s)", id, l1, c1, l2, c2)
		}
	}

	t.Logf("✓ Two passes produced identical output")
}

// ============================================================================
// SCENARIO 6: Snapshot Persistence and CSV Export
// ============================================================================

func TestResolutionSnapshot_And_Export(t *testing.T) {
	/*
	   SCENARIO: Resolve, then read back the latest snapshot and the CSV

	   EXPECTED BEHAVIOR:
	   - GET /resolutions/latest returns the pass just run
	   - GET /export/csv renders one row per district; unassigned districts
	     export their mix as "None"
	*/
	config := getTestConfig()
	loadDistricts(t, config)

	createRule(t, config, Rule{
		Title:         "High transmission",
		Color:         "#d04f4f",
		Criteria:      []Criterion{{MetricTypeID: 12, Operator: ">=", Threshold: "0.6"}},
		Interventions: map[string]int{"1": 10},
	})

	res := resolve(t, config, "exclusive")

	var latest Resolution
	if code := call(t, config, "GET", "/resolutions/latest", nil, &latest); code != http.StatusOK {
		t.Fatalf("Expected 200 for latest resolution, got %d", code)
	}
	if latest.ID != res.ID {
		t.Errorf("Expected latest snapshot %s, got %s", res.ID, latest.ID)
	}
	if latest.Metadata.EngineVersion == "" {
		t.Errorf("Expected engine version in persisted metadata")
	}

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/export/csv", nil)
	httpReq.Header.Set("X-Workspace-ID", config.WorkspaceID)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(httpReq)
	if err != nil {
		t.Fatalf("CSV request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	csvText := string(raw)
	if !strings.Contains(csvText, "Bougouni") || !strings.Contains(csvText, "Kati") {
		t.Errorf("Expected both districts in CSV, got:\n%s", csvText)
	}
	if !strings.Contains(csvText, "None") {
		t.Errorf("Expected unassigned district exported as None, got:\n%s", csvText)
	}

	t.Logf("✓ Snapshot persisted and CSV exported")
}
