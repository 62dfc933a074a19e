package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-health/kestrel/internal/domain"
)

// Expressions compiles and evaluates the optional CEL criteria form of rules.
// An expression sees the district's metric row as `metrics` (map of metric
// type id to value) and the district id as `district_id`, and must yield a
// bool. Evaluation errors fail closed: the rule simply does not match.
type Expressions struct {
	mu        sync.RWMutex
	env       *cel.Env
	programs  map[string]cel.Program
	metricIDs map[string][]int
}

// NewExpressions creates the expression engine.
func NewExpressions() (*Expressions, error) {
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.IntType, cel.DoubleType)),
		cel.Variable("district_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Expressions{
		env:       env,
		programs:  make(map[string]cel.Program),
		metricIDs: make(map[string][]int),
	}, nil
}

// Validate compiles a rule's expression without loading it.
func (e *Expressions) Validate(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.Expression == "" {
		return nil
	}
	_, _, err := e.compile(rule)
	return err
}

// Load compiles and loads a rule's expression. Rules without an expression
// are ignored.
func (e *Expressions) Load(rule *domain.Rule) error {
	if rule == nil || rule.Expression == "" {
		return nil
	}

	program, ids, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.programs[rule.ID] = program
	e.metricIDs[rule.ID] = ids
	e.mu.Unlock()

	return nil
}

// Reload clears all loaded expressions and compiles the given plan's.
// This enables hot-reloading alongside the rule list.
func (e *Expressions) Reload(plan []*domain.Rule) error {
	programs := make(map[string]cel.Program)
	metricIDs := make(map[string][]int)
	for _, rule := range plan {
		if rule == nil || rule.Expression == "" {
			continue
		}
		program, ids, err := e.compile(rule)
		if err != nil {
			return err
		}
		programs[rule.ID] = program
		metricIDs[rule.ID] = ids
	}

	e.mu.Lock()
	e.programs = programs
	e.metricIDs = metricIDs
	e.mu.Unlock()

	return nil
}

// Eval evaluates the loaded expression for a rule against a metric row.
// A missing program, an evaluation error, or a non-bool result all report
// false.
func (e *Expressions) Eval(ruleID, districtID string, metrics map[int]float64) bool {
	e.mu.RLock()
	program, ok := e.programs[ruleID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	row := make(map[int64]float64, len(metrics))
	for metricTypeID, value := range metrics {
		row[int64(metricTypeID)] = value
	}

	out, _, err := program.Eval(map[string]any{
		"metrics":     row,
		"district_id": districtID,
	})
	if err != nil {
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Count returns the number of loaded expressions.
func (e *Expressions) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// MetricIDs returns the distinct metric type ids the loaded expressions
// reference, sorted ascending. Resolve passes union these with the ids the
// structured criteria name so expression-only rules see their metric data.
func (e *Expressions) MetricIDs() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[int]bool)
	var ids []int
	for _, ruleIDs := range e.metricIDs {
		for _, id := range ruleIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// Close cleans up the engine.
func (e *Expressions) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	e.metricIDs = make(map[string][]int)
	return nil
}

func (e *Expressions) compile(rule *domain.Rule) (cel.Program, []int, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return program, referencedMetricIDs(ast), nil
}

// referencedMetricIDs walks a compiled expression and collects the integer
// keys used to index or test the metrics map (`metrics[12]`, `12 in
// metrics`), so a resolve pass knows which metrics the expression reads.
// Dynamic keys cannot be discovered this way; callers can still force extra
// metrics into the fetch set per request.
func referencedMetricIDs(ast *cel.Ast) []int {
	seen := make(map[int]bool)
	var ids []int

	visitor := celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() != celast.CallKind {
			return
		}
		call := e.AsCall()
		fn := call.FunctionName()
		if fn != operators.Index && fn != operators.In {
			return
		}
		args := call.Args()
		if len(args) != 2 {
			return
		}

		// metrics[id] places the map first, `id in metrics` places it second.
		mapArg, keyArg := args[0], args[1]
		if fn == operators.In {
			mapArg, keyArg = args[1], args[0]
		}
		if mapArg.Kind() != celast.IdentKind || mapArg.AsIdent() != "metrics" {
			return
		}
		if keyArg.Kind() != celast.LiteralKind {
			return
		}
		if key, ok := keyArg.AsLiteral().(types.Int); ok && !seen[int(key)] {
			seen[int(key)] = true
			ids = append(ids, int(key))
		}
	})
	celast.PreOrderVisit(ast.NativeRep().Expr(), visitor)

	sort.Ints(ids)
	return ids
}
