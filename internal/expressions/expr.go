package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/agentwave/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions. The data map becomes the
// expression environment, so its keys are top-level variables.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.cache.get(expression, func() (*vm.Program, error) {
		p, cerr := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"expr compile error in %q: %s", expression, cerr.Error()).
				WithCause(cerr).
				WithDetails(map[string]any{"expression": expression})
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// EvaluateFloat evaluates expression and converts a numeric result to
// float64. ok is false for nil or non-numeric results.
func (e *ExprEngine) EvaluateFloat(ctx context.Context, expression string, data map[string]any) (float64, bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return 0, false, err
	}
	f, ok := toFloat(out)
	return f, ok, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Engine = (*ExprEngine)(nil)
