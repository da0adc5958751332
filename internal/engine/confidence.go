package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/expressions"
)

// Recommendation is the three-way reading of a confidence check.
type Recommendation string

const (
	RecommendProceed            Recommendation = "proceed"
	RecommendProceedWithCaution Recommendation = "proceed_with_caution"
	RecommendSkip               Recommendation = "skip"
)

// cautionBand is the fraction of the threshold above which a failing
// score is still ProceedWithCaution.
const cautionBand = 0.8

// ConfidenceCheckResult is the outcome of gating one agent call.
type ConfidenceCheckResult struct {
	Confidence     float64        `json:"confidence"`
	Threshold      float64        `json:"threshold"`
	Passes         bool           `json:"passes"`
	Recommendation Recommendation `json:"recommendation"`
}

// ThresholdRule is an expr-lang expression evaluated against
// {agent: metadata, node: {id}}. A numeric result becomes the threshold.
type ThresholdRule struct {
	Expression string `json:"expression" yaml:"expression"`
}

// ConfidenceChecker resolves thresholds and gates agent calls.
// Resolution order: override for the node ID, override for the agent ID,
// first threshold rule yielding a number, global threshold.
type ConfidenceChecker struct {
	global float64

	mu        sync.RWMutex
	overrides map[string]float64

	rules  []ThresholdRule
	expr   *expressions.ExprEngine
	logger *slog.Logger
}

// NewConfidenceChecker copies overrides; later changes go through
// SetThreshold.
func NewConfidenceChecker(global float64, overrides map[string]float64, rules []ThresholdRule, logger *slog.Logger) *ConfidenceChecker {
	c := &ConfidenceChecker{
		global:    global,
		overrides: make(map[string]float64, len(overrides)),
		rules:     rules,
		logger:    logger,
	}
	for k, v := range overrides {
		c.overrides[k] = v
	}
	if len(rules) > 0 {
		c.expr = expressions.NewExprEngine()
	}
	return c
}

// SetThreshold registers an override for a node or agent ID.
func (c *ConfidenceChecker) SetThreshold(id string, threshold float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[id] = threshold
}

// RemoveThreshold drops an override.
func (c *ConfidenceChecker) RemoveThreshold(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, id)
}

// Thresholds returns a copy of the registered overrides.
func (c *ConfidenceChecker) Thresholds() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.overrides))
	for k, v := range c.overrides {
		out[k] = v
	}
	return out
}

// Threshold resolves the effective threshold for a node.
func (c *ConfidenceChecker) Threshold(ctx context.Context, nodeID string, meta agent.Metadata) float64 {
	c.mu.RLock()
	if t, ok := c.overrides[nodeID]; ok {
		c.mu.RUnlock()
		return t
	}
	if t, ok := c.overrides[meta.ID]; ok {
		c.mu.RUnlock()
		return t
	}
	c.mu.RUnlock()

	if len(c.rules) > 0 {
		env := map[string]any{
			"agent": meta.Map(),
			"node":  map[string]any{"id": nodeID},
		}
		for _, r := range c.rules {
			t, ok, err := c.expr.EvaluateFloat(ctx, r.Expression, env)
			if err != nil {
				c.logger.WarnContext(ctx, "threshold rule evaluation failed", "expression", r.Expression, "error", err)
				continue
			}
			if ok {
				return t
			}
		}
	}
	return c.global
}

// Check assesses the agent's confidence for input and compares it against
// the effective threshold.
func (c *ConfidenceChecker) Check(ctx context.Context, nodeID string, a agent.Agent, input agent.Input, cctx *agent.CognitiveContext) (ConfidenceCheckResult, error) {
	threshold := c.Threshold(ctx, nodeID, a.Metadata())

	confidence, err := a.AssessConfidence(ctx, input, cctx)
	if err != nil {
		return ConfidenceCheckResult{Threshold: threshold}, err
	}
	return Evaluate(confidence, threshold), nil
}

// Evaluate builds the check result for a score against a threshold.
func Evaluate(confidence, threshold float64) ConfidenceCheckResult {
	res := ConfidenceCheckResult{
		Confidence: confidence,
		Threshold:  threshold,
		Passes:     confidence >= threshold,
	}
	switch {
	case res.Passes:
		res.Recommendation = RecommendProceed
	case confidence >= threshold*cautionBand:
		res.Recommendation = RecommendProceedWithCaution
	default:
		res.Recommendation = RecommendSkip
	}
	return res
}
