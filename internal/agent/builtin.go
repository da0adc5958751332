package agent

import (
	"context"
	"time"

	"github.com/rendis/agentwave/internal/expressions"
	"github.com/rendis/agentwave/pkg/schema"
)

// DefaultConfidenceThreshold is reported by builtins as their own threshold.
const DefaultConfidenceThreshold = 0.7

// RegisterBuiltins registers echo, expr.eval, jq.transform and delay.
func RegisterBuiltins(reg *Registry) error {
	all := []Agent{
		NewEcho(),
		NewExprEval(expressions.NewExprEngine()),
		NewJQTransform(expressions.NewGoJQEngine()),
		NewDelay(),
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// base carries the metadata and confidence behaviour shared by builtins.
// A numeric "confidence" input param overrides BaseConfidence.
type base struct {
	meta Metadata
}

func (b *base) Metadata() Metadata           { return b.meta }
func (b *base) ConfidenceThreshold() float64 { return DefaultConfidenceThreshold }

func (b *base) AssessConfidence(_ context.Context, input Input, _ *CognitiveContext) (float64, error) {
	if v, ok := numberParam(input.Params, "confidence"); ok {
		return v, nil
	}
	return b.meta.BaseConfidence, nil
}

func (b *base) output(input Input, started time.Time, confidence float64) *Output {
	now := time.Now()
	return &Output{
		AgentID:         b.meta.ID,
		Type:            input.Type,
		Confidence:      confidence,
		ExecutionTimeMs: now.Sub(started).Milliseconds(),
		Timestamp:       now,
	}
}

func (b *base) confidence(ctx context.Context, input Input) float64 {
	c, _ := b.AssessConfidence(ctx, input, nil)
	return c
}

// --- echo ---

// Echo returns its input content. Params "error" and "error_code" make it
// fail, which is handy for exercising recovery from plan files.
type Echo struct{ base }

func NewEcho() *Echo {
	return &Echo{base{meta: Metadata{
		ID:             "echo",
		Name:           "Echo",
		Description:    "Returns the input content unchanged",
		Version:        "1.0.0",
		Capabilities:   []string{"text"},
		BaseConfidence: 0.9,
	}}}
}

func (a *Echo) Execute(ctx context.Context, input Input, _ *CognitiveContext) (*Output, error) {
	started := time.Now()
	if msg, ok := input.Params["error"].(string); ok && msg != "" {
		code, _ := input.Params["error_code"].(string)
		if code == "" {
			code = schema.ErrCodeExecution
		}
		return nil, schema.NewError(code, msg)
	}

	out := a.output(input, started, a.confidence(ctx, input))
	out.Content = input.Content
	out.Reasoning = "echoed input"
	return out, nil
}

// --- expr.eval ---

// ExprEval evaluates the "expression" param with expr-lang. The environment
// holds "content", "params", "data" and "previous" (outputs keyed by node ID).
type ExprEval struct {
	base
	engine *expressions.ExprEngine
}

func NewExprEval(engine *expressions.ExprEngine) *ExprEval {
	return &ExprEval{
		base: base{meta: Metadata{
			ID:             "expr.eval",
			Name:           "Expr evaluator",
			Description:    "Evaluates an expr-lang expression against the input",
			Version:        "1.0.0",
			Capabilities:   []string{"logic"},
			BaseConfidence: 0.85,
		}},
		engine: engine,
	}
}

func (a *ExprEval) Execute(ctx context.Context, input Input, _ *CognitiveContext) (*Output, error) {
	started := time.Now()
	expression, _ := input.Params["expression"].(string)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' param")
	}

	env := map[string]any{
		"content":  input.Content,
		"params":   input.Params,
		"data":     input.Params["data"],
		"previous": previousData(input.PreviousOutputs),
	}
	result, err := a.engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	out := a.output(input, started, a.confidence(ctx, input))
	out.Data = result
	return out, nil
}

// --- jq.transform ---

// JQTransform runs the "query" param over the "data" param, or over the
// previous outputs keyed by node ID when no data is given.
type JQTransform struct {
	base
	engine *expressions.GoJQEngine
}

func NewJQTransform(engine *expressions.GoJQEngine) *JQTransform {
	return &JQTransform{
		base: base{meta: Metadata{
			ID:             "jq.transform",
			Name:           "jq transform",
			Description:    "Reshapes JSON data with a jq query",
			Version:        "1.0.0",
			Capabilities:   []string{"transform"},
			BaseConfidence: 0.85,
		}},
		engine: engine,
	}
}

func (a *JQTransform) Execute(ctx context.Context, input Input, _ *CognitiveContext) (*Output, error) {
	started := time.Now()
	query, _ := input.Params["query"].(string)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq.transform requires non-empty 'query' param")
	}

	var data any = previousData(input.PreviousOutputs)
	if d, ok := input.Params["data"]; ok {
		data = d
	}

	result, err := a.engine.Query(ctx, query, expressions.Normalize(data))
	if err != nil {
		return nil, err
	}

	out := a.output(input, started, a.confidence(ctx, input))
	out.Data = result
	return out, nil
}

// --- delay ---

// Delay sleeps for the "duration" param (default 100ms) and honours
// cancellation.
type Delay struct{ base }

func NewDelay() *Delay {
	return &Delay{base{meta: Metadata{
		ID:             "delay",
		Name:           "Delay",
		Description:    "Waits for a duration, then returns its input content",
		Version:        "1.0.0",
		Capabilities:   []string{"timing"},
		BaseConfidence: 1.0,
	}}}
}

func (a *Delay) Execute(ctx context.Context, input Input, _ *CognitiveContext) (*Output, error) {
	started := time.Now()
	d := 100 * time.Millisecond
	if raw, ok := input.Params["duration"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: invalid duration %q", raw).WithCause(err)
		}
		d = parsed
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	out := a.output(input, started, a.confidence(ctx, input))
	out.Content = input.Content
	return out, nil
}

func previousData(prev []Output) map[string]any {
	out := make(map[string]any, len(prev))
	for _, o := range prev {
		if o.Data != nil {
			out[o.NodeID] = o.Data
		} else {
			out[o.NodeID] = o.Content
		}
	}
	return out
}

func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
