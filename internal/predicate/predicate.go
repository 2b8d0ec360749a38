// Package predicate implements the comparison operators shared by
// automation conditions, device triggers and wait_for barriers.
//
// Values come from decoded JSON, so the operand types are the ones
// encoding/json produces (string, float64, bool, nil, map[string]any,
// []any) plus Go numeric types supplied by callers.
//
// Equality (eq, neq) is strict: no type coercion, so "5" never equals 5.
// Ordering (gt, gte, lt, lte) converts both operands to numbers and is
// false whenever either side is not a finite number.
package predicate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator is a comparison operator.
type Operator string

// Supported operators.
const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// ErrInvalidOperator is returned by Parse for unknown operator names.
var ErrInvalidOperator = errors.New("predicate: invalid operator")

// AllOperators returns every supported operator.
func AllOperators() []Operator {
	return []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte}
}

// Parse validates an operator name.
func Parse(s string) (Operator, error) {
	op := Operator(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

// Valid reports whether o is one of the six supported operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Symbol returns the operator in infix notation (eq -> "==").
func (o Operator) Symbol() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	}
	return string(o)
}

// Negated returns the infix symbol of the operator's complement. It is used
// in timeout diagnostics to describe the state a device was left in: a
// wait for eq "closed" that times out reports the device as != "closed".
//
// Adding an operator requires extending this table.
func (o Operator) Negated() string {
	switch o {
	case OpEq:
		return "!="
	case OpNeq:
		return "=="
	case OpGt:
		return "<="
	case OpGte:
		return "<"
	case OpLt:
		return ">="
	case OpLte:
		return ">"
	}
	return "not " + string(o)
}

// Compare applies op to actual and expected. Unknown operators compare false.
func Compare(op Operator, actual, expected any) bool {
	switch op {
	case OpEq:
		return StrictEqual(actual, expected)
	case OpNeq:
		return !StrictEqual(actual, expected)
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := ToNumber(actual)
		b, okB := ToNumber(expected)
		if !okA || !okB {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

// StrictEqual compares two scalar values without type coercion.
//
// Numbers compare by value across Go numeric types. Maps and slices are
// never equal to anything, including themselves: they have reference
// identity in the documents these values come from.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// ToNumber converts v to a finite float64.
//
// Numbers pass through; strings are parsed after trimming whitespace (the
// empty string is 0); booleans are 1 or 0; nil is 0. Anything else, and any
// result that is NaN or infinite, reports false.
func ToNumber(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		f = 0
	case bool:
		if val {
			f = 1
		}
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			f = 0
			break
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		n, ok := numeric(v)
		if !ok {
			return 0, false
		}
		f = n
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numeric reports the value of Go numeric types and json.Number.
func numeric(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
