package authz

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
)

// Evaluator walks compiled condition trees against a flattened attribute map.
// A leaf that cannot be evaluated (type mismatch, malformed value) counts as
// false and is logged at warning level; evaluation never panics and never
// returns an error to the caller.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator returns an Evaluator logging through the given logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate reports whether the condition tree holds for the given attributes.
// A nil tree never matches.
func (e *Evaluator) Evaluate(node *ConditionNode, attrs map[string]any) bool {
	if node == nil {
		return false
	}
	return e.eval(node, attrs)
}

func (e *Evaluator) eval(node *ConditionNode, attrs map[string]any) bool {
	switch node.Kind {
	case NodeAnd:
		for i := range node.Children {
			if !e.eval(&node.Children[i], attrs) {
				return false
			}
		}
		return true
	case NodeOr:
		for i := range node.Children {
			if e.eval(&node.Children[i], attrs) {
				return true
			}
		}
		return false
	case NodeLeaf:
		ok, err := compareLeaf(node.Path, node.Op, attrs[node.Path], node.Literal)
		if err != nil {
			e.logger.Warn("condition comparison failed",
				"path", node.Path,
				"op", string(node.Op),
				"error", err)
			return false
		}
		return ok
	default:
		e.logger.Warn("unknown condition node kind", "kind", int(node.Kind))
		return false
	}
}

// compareLeaf applies op to (actual, expected). actual is nil when the request
// did not carry the attribute.
func compareLeaf(path string, op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEq:
		return equals(actual, expected), nil
	case OpNe:
		return !equals(actual, expected), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(path, op, actual, expected)
	case OpIn:
		return member(actual, expected), nil
	case OpNotIn:
		return !member(actual, expected), nil
	case OpContains:
		return containsValue(actual, expected), nil
	case OpNotContains:
		return !containsValue(actual, expected), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// equals is structural equality over the JSON value domain. Numbers compare by
// value regardless of Go type; slices compare elementwise so a []string actual
// matches a []any literal; nil equals only nil.
func equals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat64(a); ok {
		bf, ok := toFloat64(b)
		return ok && af == bf
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() == reflect.Slice || bv.Kind() == reflect.Slice {
		if av.Kind() != reflect.Slice || bv.Kind() != reflect.Slice || av.Len() != bv.Len() {
			return false
		}
		for i := 0; i < av.Len(); i++ {
			if !equals(av.Index(i).Interface(), bv.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered applies a gt/gte/lt/lte comparison. Clock-time attributes in
// HH:MM form compare as minutes since midnight; numbers compare numerically;
// strings compare lexicographically; a lone string side is coerced to float
// when possible. A missing actual value is simply false, not an error.
func compareOrdered(path string, op Operator, actual, expected any) (bool, error) {
	if actual == nil {
		return false, nil
	}

	as, aIsStr := actual.(string)
	es, eIsStr := expected.(string)

	if TimeOfDayPath(path) && aIsStr && eIsStr {
		am, aok := parseClock(as)
		em, eok := parseClock(es)
		if aok && eok {
			return orderFloats(op, float64(am), float64(em)), nil
		}
	}

	af, aIsNum := toFloat64(actual)
	ef, eIsNum := toFloat64(expected)

	switch {
	case aIsNum && eIsNum:
		return orderFloats(op, af, ef), nil
	case aIsStr && eIsStr:
		return orderStrings(op, as, es), nil
	case aIsStr && eIsNum:
		f, err := strconv.ParseFloat(strings.TrimSpace(as), 64)
		if err != nil {
			return false, fmt.Errorf("cannot coerce %q to number", as)
		}
		return orderFloats(op, f, ef), nil
	case aIsNum && eIsStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(es), 64)
		if err != nil {
			return false, fmt.Errorf("cannot coerce %q to number", es)
		}
		return orderFloats(op, af, f), nil
	default:
		return false, fmt.Errorf("cannot order %T against %T", actual, expected)
	}
}

func orderFloats(op Operator, a, b float64) bool {
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

func orderStrings(op Operator, a, b string) bool {
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

// member reports whether actual occurs in the list expected. A non-list
// expected never matches.
func member(actual, expected any) bool {
	ev := reflect.ValueOf(expected)
	if !ev.IsValid() || ev.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < ev.Len(); i++ {
		if equals(actual, ev.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// containsValue reports whether actual contains expected: element membership
// for a list actual, substring for a string actual, false otherwise.
func containsValue(actual, expected any) bool {
	if s, ok := actual.(string); ok {
		sub, ok := expected.(string)
		return ok && strings.Contains(s, sub)
	}
	av := reflect.ValueOf(actual)
	if !av.IsValid() || av.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < av.Len(); i++ {
		if equals(av.Index(i).Interface(), expected) {
			return true
		}
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ValidClock reports whether s is a parseable HH:MM clock time. Inbound
// adapters use it to reject malformed timeOfDay attributes before evaluation.
func ValidClock(s string) bool {
	_, ok := parseClock(s)
	return ok
}

// parseClock parses "HH:MM" into minutes since midnight. Hours accept one or
// two digits, minutes exactly two.
func parseClock(s string) (int, bool) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
