package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/agentwave/pkg/schema"
)

// CELEngine evaluates Common Expression Language predicates.
// Every declared variable is a map(string, dyn); missing variables evaluate
// as empty maps.
type CELEngine struct {
	env   *cel.Env
	vars  []string
	cache *programCache[cel.Program]
}

// NewCELEngine creates a sandboxed CEL environment declaring vars.
func NewCELEngine(vars ...string) (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, mapType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		vars:  vars,
		cache: newProgramCache[cel.Program](),
	}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Compile checks expression without evaluating it.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(e.vars))
	for _, key := range e.vars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// EvaluateBool evaluates a predicate; a non-boolean result is an error.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	return e.cache.get(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL compile error in %q: %s", expression, issues.Err().Error()).
				WithCause(issues.Err()).
				WithDetails(map[string]any{"expression": expression})
		}

		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"CEL program error for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		return prg, nil
	})
}

var _ Engine = (*CELEngine)(nil)
