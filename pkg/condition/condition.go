// Package condition evaluates the branching rules of condition steps.
//
// The operators deliberately mirror loosely typed comparison semantics: equality is
// strict (no coercion between strings and numbers), ordering parses both operands as
// floating point and any NaN operand makes the comparison false, and unknown
// operators evaluate to false instead of failing.
package condition

import (
	"math"
	"reflect"
	"strings"

	"github.com/dukex/stepflow/pkg/interpolate"
	"github.com/dukex/stepflow/pkg/models"
)

// Evaluate applies operator to the context value and the literal comparison value.
// A nil context value stands for an absent field.
func Evaluate(contextValue any, operator string, comparison any) bool {
	switch operator {
	case models.OperatorEquals:
		return strictEqual(contextValue, comparison)
	case models.OperatorGreaterThan:
		return ParseFloat(contextValue) > ParseFloat(comparison)
	case models.OperatorLessThan:
		return ParseFloat(contextValue) < ParseFloat(comparison)
	case models.OperatorContains:
		return contains(contextValue, comparison)
	default:
		return false
	}
}

// Select evaluates cond against context and returns the id of the chosen branch
// together with the evaluation result. The id is empty when that branch is not set.
func Select(cond *models.StepCondition, context map[string]any) (string, bool) {
	if cond == nil {
		return "", false
	}

	met := Evaluate(context[cond.Field], cond.Operator, cond.Value)
	if met {
		return cond.TrueStep, true
	}

	return cond.FalseStep, false
}

func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)

		return ok && fa == fb
	}

	switch va := a.(type) {
	case string:
		vb, ok := b.(string)

		return ok && va == vb
	case bool:
		vb, ok := b.(bool)

		return ok && va == vb
	}

	// Objects and sequences are only identical to themselves; decoded values never are.
	return false
}

func sameValueZero(a, b any) bool {
	fa, okA := asNumber(a)
	fb, okB := asNumber(b)

	if okA && okB && math.IsNaN(fa) && math.IsNaN(fb) {
		return true
	}

	return strictEqual(a, b)
}

func contains(value, needle any) bool {
	if value == nil {
		return false
	}

	if s, ok := value.(string); ok {
		if needle == nil {
			return strings.Contains(s, "undefined")
		}

		return strings.Contains(s, interpolate.Stringify(needle))
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}

	for i := range rv.Len() {
		if sameValueZero(rv.Index(i).Interface(), needle) {
			return true
		}
	}

	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
