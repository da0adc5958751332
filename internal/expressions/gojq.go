package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/agentwave/pkg/schema"
)

// GoJQEngine evaluates jq queries. A single output is returned as is,
// several outputs are collected into []any, none yields nil.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	return e.Query(ctx, expression, Normalize(data))
}

// Query runs expression against an arbitrary JSON-shaped input value.
func (e *GoJQEngine) Query(ctx context.Context, expression string, input any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.get(expression, func() (*gojq.Code, error) {
		query, perr := gojq.Parse(expression)
		if perr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq parse error in %q: %s", expression, perr.Error()).
				WithCause(perr).
				WithDetails(map[string]any{"expression": expression})
		}
		c, cerr := gojq.Compile(query,
			// $ENV stays empty.
			gojq.WithEnvironLoader(func() []string { return nil }),
		)
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq compile error in %q: %s", expression, cerr.Error()).
				WithCause(cerr).
				WithDetails(map[string]any{"expression": expression})
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if verr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, verr.Error()).
				WithCause(verr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Normalize converts Go integer and float32 values to float64 recursively,
// matching jq's number model. Maps and slices are copied.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	case map[string]int64:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = float64(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
