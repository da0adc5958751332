package agent

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Agent is the capability contract the executor drives.
// AssessConfidence must be side-effect free; it runs before every
// execution, including ones that end up skipped. Execute may be invoked
// several times with identical input and must tolerate that.
type Agent interface {
	Metadata() Metadata
	ConfidenceThreshold() float64
	AssessConfidence(ctx context.Context, input Input, cctx *CognitiveContext) (float64, error)
	Execute(ctx context.Context, input Input, cctx *CognitiveContext) (*Output, error)
}

// Metadata is the static descriptor of an agent.
type Metadata struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	Version        string   `json:"version,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	BaseConfidence float64  `json:"base_confidence"`
}

// Map renders the metadata for expression environments.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		"id":              m.ID,
		"name":            m.Name,
		"version":         m.Version,
		"capabilities":    toAnySlice(m.Capabilities),
		"tags":            toAnySlice(m.Tags),
		"base_confidence": m.BaseConfidence,
	}
}

// Input is what a node hands its agent.
type Input struct {
	Type            string         `json:"type,omitempty"`
	Content         string         `json:"content,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	PreviousOutputs []Output       `json:"previous_outputs,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Output is the result of one successful execution.
type Output struct {
	AgentID         string    `json:"agent_id"`
	NodeID          string    `json:"node_id"`
	Type            string    `json:"type,omitempty"`
	Content         string    `json:"content,omitempty"`
	Data            any       `json:"data,omitempty"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning,omitempty"`
	NextActions     []string  `json:"next_actions,omitempty"`
	Caution         bool      `json:"caution,omitempty"` // ran below threshold
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// CognitiveContext is the per-run context shared by every agent call.
// The executor never mutates it; agents receive a clone.
type CognitiveContext struct {
	SessionID   string         `json:"session_id,omitempty"`
	Goals       []string       `json:"goals,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// Clone returns a copy whose slices and top-level map are not shared.
// A nil receiver yields an empty context.
func (c *CognitiveContext) Clone() *CognitiveContext {
	if c == nil {
		return &CognitiveContext{}
	}
	return &CognitiveContext{
		SessionID:   c.SessionID,
		Goals:       slices.Clone(c.Goals),
		Constraints: slices.Clone(c.Constraints),
		Variables:   maps.Clone(c.Variables),
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
