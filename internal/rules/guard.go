package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// guardEnv compiles rule guard expressions.
type guardEnv struct {
	env *cel.Env
}

func newGuardEnv() (*guardEnv, error) {
	// Create CEL environment with event variables
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &guardEnv{env: env}, nil
}

func (g *guardEnv) compile(expr string) (cel.Program, error) {
	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard must return bool, got %s", ast.OutputType())
	}
	return g.env.Program(ast)
}

// guardActivation builds the CEL variables for one event.
func guardActivation(ev *domain.Event) map[string]any {
	country := ""
	if ev.Geo != nil {
		country = ev.Geo.Country
	}
	return map[string]any{
		"event":      ev.AttributeMap(),
		"amount":     ev.Amount,
		"channel":    ev.Channel,
		"event_type": ev.Type,
		"country":    country,
		"hour":       int64(ev.Timestamp.UTC().Hour()),
	}
}

func evalGuard(prg cel.Program, activation map[string]any) (bool, error) {
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("guard returned %s", out.Type())
	}
	return bool(b), nil
}
