// Benchmark tool for measuring resolution engine throughput.
//
// Usage:
//   go run cmd/benchmark/main.go -districts 5000 -rules 50 -passes 100
//
// This tool:
//   1. Generates a synthetic district table with metric values
//   2. Generates a synthetic rule plan (criteria, catch-alls, exclusions)
//   3. Runs repeated resolution passes over the table
//   4. Reports per-pass latency and district throughput
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/rules"
)

const (
	metricSeasonality = 12
	metricMortality   = 7
)

func main() {
	districtCount := flag.Int("districts", 5000, "Number of synthetic districts")
	ruleCount := flag.Int("rules", 50, "Number of synthetic rules in the plan")
	passes := flag.Int("passes", 100, "Number of resolution passes to run")
	policyName := flag.String("policy", "exclusive", "Composition policy: exclusive or cumulative")
	exclusionRate := flag.Float64("exclusions", 0.02, "Fraction of districts excluded per rule (0.0-1.0)")
	seed := flag.Int64("seed", 42, "Random seed for reproducible runs")
	flag.Parse()

	policy := domain.Policy(*policyName)
	if !policy.Valid() {
		fmt.Printf("ERROR: unknown policy %q (want exclusive or cumulative)\n", *policyName)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Resolution Engine                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nDistricts:  %d\n", *districtCount)
	fmt.Printf("Rules:      %d\n", *ruleCount)
	fmt.Printf("Passes:     %d\n", *passes)
	fmt.Printf("Policy:     %s\n", policy)
	fmt.Printf("Exclusions: %.2f per rule\n", *exclusionRate)
	fmt.Println()

	rng := rand.New(rand.NewSource(*seed))

	districts, table := generateDistricts(rng, *districtCount)
	plan := generatePlan(rng, *ruleCount, *districtCount, *exclusionRate)
	cat := generateCatalog()

	exprs, err := rules.NewExpressions()
	if err != nil {
		fmt.Printf("ERROR: failed to create expression engine: %v\n", err)
		os.Exit(1)
	}
	defer exprs.Close()
	if err := exprs.Reload(plan); err != nil {
		fmt.Printf("ERROR: failed to compile expressions: %v\n", err)
		os.Exit(1)
	}
	resolver := rules.NewResolver(exprs)

	fmt.Printf("Running %d passes...\n", *passes)

	latencies := make([]time.Duration, 0, *passes)
	startTime := time.Now()
	for i := 0; i < *passes; i++ {
		passStart := time.Now()
		resolver.Resolve(districts, plan, table, cat, policy)
		latencies = append(latencies, time.Since(passStart))
	}
	total := time.Since(startTime)

	printResults(districts, latencies, total, *districtCount, *passes)
}

// generateDistricts builds the district table and a matching metric table.
// Seasonality in [0,1], under-five mortality in [0,120].
func generateDistricts(rng *rand.Rand, count int) ([]*domain.District, domain.MetricTable) {
	districts := make([]*domain.District, 0, count)
	table := make(domain.MetricTable, count)

	for i := 0; i < count; i++ {
		id := strconv.Itoa(1000 + i)
		districts = append(districts, &domain.District{
			ID:   id,
			Name: fmt.Sprintf("District %d", i),
		})
		table[id] = map[int]float64{
			metricSeasonality: rng.Float64(),
			metricMortality:   rng.Float64() * 120,
		}
	}

	// A slice of districts with missing metric rows, like real data.
	for i := 0; i < count/50; i++ {
		delete(table, strconv.Itoa(1000+rng.Intn(count)))
	}

	return districts, table
}

func generatePlan(rng *rand.Rand, ruleCount, districtCount int, exclusionRate float64) []*domain.Rule {
	ops := []domain.Operator{domain.OpLess, domain.OpLessEq, domain.OpGreaterEq, domain.OpGreater}
	plan := make([]*domain.Rule, 0, ruleCount)

	for i := 0; i < ruleCount; i++ {
		rule := &domain.Rule{
			ID:       fmt.Sprintf("rule-%03d", i),
			Title:    fmt.Sprintf("Synthetic rule %d", i),
			Color:    fmt.Sprintf("#%06x", rng.Intn(0xffffff)),
			Position: i,
			Interventions: map[int]int{
				1 + rng.Intn(2): 10 + rng.Intn(4),
			},
		}

		switch i % 5 {
		case 0:
			// Catch-all baseline rule
			rule.AllDistricts = true
		case 4:
			// Expression-form criteria
			rule.Expression = fmt.Sprintf("metrics[%d] >= %.2f && metrics[%d] < %.1f",
				metricSeasonality, rng.Float64(), metricMortality, 20+rng.Float64()*100)
		default:
			seasonality := metricSeasonality
			mortality := metricMortality
			rule.Criteria = []domain.Criterion{
				{MetricTypeID: &seasonality, Operator: ops[rng.Intn(len(ops))], Threshold: fmt.Sprintf("%.2f", rng.Float64())},
				{MetricTypeID: &mortality, Operator: ops[rng.Intn(len(ops))], Threshold: fmt.Sprintf("%.1f", rng.Float64()*120)},
			}
		}

		for d := 0; d < int(float64(districtCount)*exclusionRate); d++ {
			rule.ExcludedDistrictIDs = append(rule.ExcludedDistrictIDs, strconv.Itoa(1000+rng.Intn(districtCount)))
		}

		plan = append(plan, rule)
	}

	return plan
}

func generateCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.Category{
		{ID: 1, Name: "Vector Control", Interventions: []domain.Intervention{
			{ID: 10, ShortName: "ITN"},
			{ID: 11, ShortName: "IRS"},
			{ID: 12, ShortName: "LSM"},
			{ID: 13, ShortName: "ITN+IRS"},
		}},
		{ID: 2, Name: "Chemoprevention", Interventions: []domain.Intervention{
			{ID: 10, ShortName: "SMC"},
			{ID: 11, ShortName: "IPTp"},
			{ID: 12, ShortName: "PMC"},
			{ID: 13, ShortName: "MDA"},
		}},
	})
}

func printResults(districts []*domain.District, latencies []time.Duration, total time.Duration, districtCount, passes int) {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg := sum / time.Duration(len(sorted))
	p95 := sorted[len(sorted)*95/100]

	assigned := 0
	for _, d := range districts {
		if len(d.Assignments) > 0 {
			assigned++
		}
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RESOLUTION OUTPUT\n")
	fmt.Printf("   Districts Assigned:  %d / %d (%.2f%%)\n", assigned, districtCount, 100*float64(assigned)/float64(districtCount))

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", total.Round(time.Millisecond))
	fmt.Printf("   Min Pass:         %v\n", sorted[0].Round(time.Microsecond))
	fmt.Printf("   Avg Pass:         %v\n", avg.Round(time.Microsecond))
	fmt.Printf("   P95 Pass:         %v\n", p95.Round(time.Microsecond))
	fmt.Printf("   Max Pass:         %v\n", sorted[len(sorted)-1].Round(time.Microsecond))
	if total > 0 {
		throughput := float64(districtCount*passes) / total.Seconds()
		fmt.Printf("   Throughput:       %.0f district-evaluations/sec\n", throughput)
	}
	fmt.Println()
}
