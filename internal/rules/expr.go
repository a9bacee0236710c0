package rules

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// evalExpr combines per-condition results. A nil expression is the
// conjunction of every condition.
func evalExpr(e *domain.Expr, results []bool) (bool, error) {
	if e == nil {
		if len(results) == 0 {
			return false, nil
		}
		for _, r := range results {
			if !r {
				return false, nil
			}
		}
		return true, nil
	}

	switch e.Op {
	case domain.ExprCond:
		if e.Index < 0 || e.Index >= len(results) {
			return false, fmt.Errorf("condition index %d out of range", e.Index)
		}
		return results[e.Index], nil

	case domain.ExprAll:
		if len(e.Args) == 0 {
			return false, fmt.Errorf("all requires arguments")
		}
		out := true
		for _, arg := range e.Args {
			ok, err := evalExpr(arg, results)
			if err != nil {
				return false, err
			}
			out = out && ok
		}
		return out, nil

	case domain.ExprAny:
		if len(e.Args) == 0 {
			return false, fmt.Errorf("any requires arguments")
		}
		out := false
		for _, arg := range e.Args {
			ok, err := evalExpr(arg, results)
			if err != nil {
				return false, err
			}
			out = out || ok
		}
		return out, nil

	case domain.ExprNot:
		if len(e.Args) != 1 {
			return false, fmt.Errorf("not takes exactly one argument")
		}
		ok, err := evalExpr(e.Args[0], results)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	return false, fmt.Errorf("unknown logic op %q", e.Op)
}

// validateExpr checks the structure of a logic expression for n conditions.
func validateExpr(e *domain.Expr, n int) error {
	if e == nil {
		return nil
	}
	// A dry run over all-false inputs walks every node.
	if _, err := evalExpr(e, make([]bool, n)); err != nil {
		return domain.Invalid("logic", err.Error())
	}
	return nil
}
