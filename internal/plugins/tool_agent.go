package plugins

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/pkg/schema"
)

// toolAgent runs one MCP tool. Input params become the tool arguments;
// input content is passed as "content" unless a param already sets it.
type toolAgent struct {
	meta   agent.Metadata
	tool   string
	client Client
}

func newToolAgent(cfg Config, version string, tool mcp.Tool, c Client) *toolAgent {
	desc := tool.Description
	if desc == "" {
		desc = "MCP tool " + tool.Name
	}
	return &toolAgent{
		meta: agent.Metadata{
			ID:             cfg.Name + "." + tool.Name,
			Name:           tool.Name,
			Description:    desc,
			Version:        version,
			Capabilities:   []string{"mcp"},
			Tags:           []string{"plugin:" + cfg.Name},
			BaseConfidence: cfg.BaseConfidence,
		},
		tool:   tool.Name,
		client: c,
	}
}

func (a *toolAgent) Metadata() agent.Metadata { return a.meta }

func (a *toolAgent) ConfidenceThreshold() float64 { return agent.DefaultConfidenceThreshold }

// AssessConfidence honours a numeric "confidence" param like the builtins.
func (a *toolAgent) AssessConfidence(_ context.Context, input agent.Input, _ *agent.CognitiveContext) (float64, error) {
	if v, ok := input.Params["confidence"].(float64); ok {
		return v, nil
	}
	return a.meta.BaseConfidence, nil
}

func (a *toolAgent) Execute(ctx context.Context, input agent.Input, cctx *agent.CognitiveContext) (*agent.Output, error) {
	started := time.Now()

	args := maps.Clone(input.Params)
	if args == nil {
		args = map[string]any{}
	}
	delete(args, "confidence")
	if _, ok := args["content"]; !ok && input.Content != "" {
		args["content"] = input.Content
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = a.tool
	req.Params.Arguments = args

	res, err := a.client.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeAgentUnavailable, "call %s: %s", a.meta.ID, err.Error()).WithCause(err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "tool %s failed: %s", a.meta.ID, text)
	}

	confidence, _ := a.AssessConfidence(ctx, input, cctx)
	now := time.Now()
	return &agent.Output{
		AgentID:         a.meta.ID,
		Type:            input.Type,
		Content:         text,
		Data:            res.StructuredContent,
		Confidence:      confidence,
		Reasoning:       "called MCP tool " + a.tool,
		ExecutionTimeMs: now.Sub(started).Milliseconds(),
		Timestamp:       now,
	}, nil
}

// resultText joins the text content blocks of a tool result.
func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
