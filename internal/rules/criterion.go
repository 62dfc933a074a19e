// Package rules implements the district rule-matching and resolution engine.
package rules

import (
	"github.com/opensource-health/kestrel/internal/domain"
)

// EvaluateCriterion compares a metric value against a threshold.
// Equality is exact numeric equality, no epsilon. Unknown operators evaluate
// to false rather than erroring; matching is fail-closed throughout.
func EvaluateCriterion(value float64, op domain.Operator, threshold float64) bool {
	switch op {
	case domain.OpLess:
		return value < threshold
	case domain.OpLessEq:
		return value <= threshold
	case domain.OpEqual:
		return value == threshold
	case domain.OpGreaterEq:
		return value >= threshold
	case domain.OpGreater:
		return value > threshold
	default:
		return false
	}
}
