package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	waveKey
	nodeIDKey
	agentKey
)

// WithRunID returns a context carrying the plan run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithWave returns a context carrying the 1-based wave number.
func WithWave(ctx context.Context, wave int) context.Context {
	return context.WithValue(ctx, waveKey, wave)
}

// WithNodeID returns a context carrying the DAG node ID.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WithAgent returns a context carrying the registered agent name.
func WithAgent(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentKey, name)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Wave extracts the wave number from the context, or 0 if absent.
func Wave(ctx context.Context) int {
	v, _ := ctx.Value(waveKey).(int)
	return v
}

// NodeID extracts the node ID from the context, or "" if absent.
func NodeID(ctx context.Context) string {
	v, _ := ctx.Value(nodeIDKey).(string)
	return v
}

// Agent extracts the agent name from the context, or "" if absent.
func Agent(ctx context.Context) string {
	v, _ := ctx.Value(agentKey).(string)
	return v
}

// WithNode sets the node and agent correlation values at once.
func WithNode(ctx context.Context, nodeID, agent string) context.Context {
	return WithAgent(WithNodeID(ctx, nodeID), agent)
}

// attrs collects the non-empty correlation values in a stable order.
func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := RunID(ctx); v != "" {
		out = append(out, slog.String("run_id", v))
	}
	if v := Wave(ctx); v > 0 {
		out = append(out, slog.Int("wave", v))
	}
	if v := NodeID(ctx); v != "" {
		out = append(out, slog.String("node_id", v))
	}
	if v := Agent(ctx); v != "" {
		out = append(out, slog.String("agent", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation values from the context.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects correlation values
// from the context into every record, so logger.InfoContext(ctx, ...) is
// enough at call sites.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner with correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
