package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EvaluateCondition compares an observed event value against a condition.
// A missing field, an unknown operator or a value that cannot be coerced to
// the declared data type never matches.
func EvaluateCondition(cond domain.RuleCondition, observed any, present bool) bool {
	if !present || observed == nil {
		return false
	}
	if !cond.Operator.Valid() {
		return false
	}

	if cond.Operator == domain.OpIn {
		for _, candidate := range listValues(cond.Value) {
			if compare(cond.DataType, domain.OpEqual, observed, candidate) {
				return true
			}
		}
		return false
	}

	return compare(cond.DataType, cond.Operator, observed, cond.Value)
}

// conditionFault describes why a condition cannot be evaluated at all.
// An empty string means the condition is well formed.
func conditionFault(cond domain.RuleCondition) string {
	if !cond.Operator.Valid() {
		return fmt.Sprintf("unknown operator %q on field %q", cond.Operator, cond.Field)
	}
	if !cond.DataType.Valid() {
		return fmt.Sprintf("unknown data type %q on field %q", cond.DataType, cond.Field)
	}
	return ""
}

// validateCondition checks a condition before it is attached to a rule.
func validateCondition(i int, cond domain.RuleCondition) error {
	field := fmt.Sprintf("conditions[%d]", i)
	if strings.TrimSpace(cond.Field) == "" {
		return domain.Invalid(field+".field", "required")
	}
	if fault := conditionFault(cond); fault != "" {
		return domain.Invalid(field, fault)
	}
	if cond.DataType == domain.DataTypeBoolean {
		switch cond.Operator {
		case domain.OpEqual, domain.OpNotEqual, domain.OpIn:
		default:
			return domain.Invalid(field+".operator", fmt.Sprintf("%s is not defined for booleans", cond.Operator))
		}
	}

	values := []any{cond.Value}
	if cond.Operator == domain.OpIn {
		values = listValues(cond.Value)
		if len(values) == 0 {
			return domain.Invalid(field+".value", "in requires a non-empty list")
		}
	}
	for _, v := range values {
		if _, ok := coerce(cond.DataType, v); !ok {
			return domain.Invalid(field+".value", fmt.Sprintf("%v is not a %s", v, cond.DataType))
		}
	}
	return nil
}

func compare(dt domain.DataType, op domain.Operator, observed, expected any) bool {
	a, ok := coerce(dt, observed)
	if !ok {
		return false
	}
	b, ok := coerce(dt, expected)
	if !ok {
		return false
	}

	switch dt {
	case domain.DataTypeNumber:
		x, y := a.(float64), b.(float64)
		switch op {
		case domain.OpEqual:
			return x == y
		case domain.OpNotEqual:
			return x != y
		case domain.OpGreater:
			return x > y
		case domain.OpGreaterEqual:
			return x >= y
		case domain.OpLess:
			return x < y
		case domain.OpLessEqual:
			return x <= y
		}
	case domain.DataTypeString:
		x, y := a.(string), b.(string)
		switch op {
		case domain.OpEqual:
			return x == y
		case domain.OpNotEqual:
			return x != y
		case domain.OpGreater:
			return x > y
		case domain.OpGreaterEqual:
			return x >= y
		case domain.OpLess:
			return x < y
		case domain.OpLessEqual:
			return x <= y
		}
	case domain.DataTypeBoolean:
		x, y := a.(bool), b.(bool)
		switch op {
		case domain.OpEqual:
			return x == y
		case domain.OpNotEqual:
			return x != y
		}
	}
	return false
}

// coerce converts v to the Go representation of dt.
func coerce(dt domain.DataType, v any) (any, bool) {
	switch dt {
	case domain.DataTypeNumber:
		f, ok := toNumber(v)
		return f, ok
	case domain.DataTypeString:
		switch s := v.(type) {
		case string:
			return s, true
		case fmt.Stringer:
			return s.String(), true
		case float64, float32, int, int32, int64, bool:
			return fmt.Sprint(s), true
		}
	case domain.DataTypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			return parsed, err == nil
		}
	}
	return nil, false
}

func toNumber(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// listValues expands an `in` operand: a JSON array or a comma separated string.
func listValues(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	case []float64:
		out := make([]any, len(list))
		for i, f := range list {
			out[i] = f
		}
		return out
	case string:
		parts := strings.Split(list, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
