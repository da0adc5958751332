package plugins

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/pkg/schema"
)

// fakeClient satisfies Client without a transport.
type fakeClient struct {
	tools   []mcp.Tool
	initErr error
	pingErr error
	closed  bool
}

func (f *fakeClient) Initialize(_ context.Context, _ mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	res := &mcp.InitializeResult{}
	res.ServerInfo = mcp.Implementation{Name: "fake", Version: "0.1.0"}
	return res, nil
}

func (f *fakeClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("called " + req.Params.Name), nil
}

func (f *fakeClient) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// newCalcServer returns an in-process MCP server with an "upper" tool that
// uppercases its content and a "fail" tool that always reports an error.
func newCalcServer() *server.MCPServer {
	s := server.NewMCPServer("calc", "1.2.0", server.WithToolCapabilities(false))
	s.AddTool(
		mcp.NewTool("upper",
			mcp.WithDescription("Uppercase text"),
			mcp.WithString("content", mcp.Required()),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := req.RequireString("content")
			if err != nil {
				return mcp.NewToolResultError("content is required"), nil
			}
			return mcp.NewToolResultText(strings.ToUpper(text)), nil
		},
	)
	s.AddTool(mcp.NewTool("fail"), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})
	return s
}

func attachCalc(t *testing.T, reg *agent.Registry) *Manager {
	t.Helper()
	ctx := context.Background()
	c, err := client.NewInProcessClient(newCalcServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	m := NewManager(reg, nil)
	require.NoError(t, m.Attach(ctx, Config{Name: "calc"}, c))
	t.Cleanup(func() { _ = m.StopAll() })
	return m
}

func TestAttach_RegistersToolAgents(t *testing.T) {
	reg := agent.NewRegistry()
	m := attachCalc(t, reg)

	assert.ElementsMatch(t, []string{"calc.fail", "calc.upper"}, m.Agents("calc"))
	assert.Equal(t, map[string]string{"calc": StatusHealthy}, m.Status())

	a, err := reg.Get("calc.upper")
	require.NoError(t, err)
	meta := a.Metadata()
	assert.Equal(t, "Uppercase text", meta.Description)
	assert.Equal(t, "1.2.0", meta.Version)
	assert.Equal(t, DefaultBaseConfidence, meta.BaseConfidence)
	assert.Equal(t, []string{"plugin:calc"}, meta.Tags)
}

func TestToolAgent_Execute(t *testing.T) {
	reg := agent.NewRegistry()
	attachCalc(t, reg)
	ctx := context.Background()

	upper, err := reg.Get("calc.upper")
	require.NoError(t, err)
	out, err := upper.Execute(ctx, agent.Input{Content: "wave", Params: map[string]any{"confidence": 0.95}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "WAVE", out.Content)
	assert.Equal(t, "calc.upper", out.AgentID)
	assert.Equal(t, 0.95, out.Confidence)

	fail, err := reg.Get("calc.fail")
	require.NoError(t, err)
	_, err = fail.Execute(ctx, agent.Input{}, nil)
	var wErr *schema.Error
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, schema.ErrCodeExecution, wErr.Code)
	assert.Contains(t, wErr.Message, "nope")
}

func TestToolAgent_AssessConfidence(t *testing.T) {
	a := newToolAgent(Config{Name: "p", BaseConfidence: 0.6}, "1", mcp.Tool{Name: "t"}, &fakeClient{})

	c, err := a.AssessConfidence(context.Background(), agent.Input{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.6, c)

	c, err = a.AssessConfidence(context.Background(), agent.Input{Params: map[string]any{"confidence": 0.2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.2, c)
	assert.Equal(t, "MCP tool t", a.Metadata().Description)
}

func TestAttach_Errors(t *testing.T) {
	ctx := context.Background()
	reg := agent.NewRegistry()
	m := NewManager(reg, nil)

	var wErr *schema.Error
	require.ErrorAs(t, m.Attach(ctx, Config{}, &fakeClient{}), &wErr)
	assert.Equal(t, schema.ErrCodeConfiguration, wErr.Code)

	require.ErrorAs(t, m.Attach(ctx, Config{Name: "x"}, &fakeClient{initErr: errors.New("eof")}), &wErr)
	assert.Equal(t, schema.ErrCodeAgentUnavailable, wErr.Code)

	require.NoError(t, m.Attach(ctx, Config{Name: "x"}, &fakeClient{tools: []mcp.Tool{{Name: "a"}}}))
	require.ErrorAs(t, m.Attach(ctx, Config{Name: "x"}, &fakeClient{}), &wErr)
	assert.Equal(t, schema.ErrCodeConflict, wErr.Code)
}

func TestAttach_RollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	reg := agent.NewRegistry()
	m := NewManager(reg, nil)

	require.NoError(t, m.Attach(ctx, Config{Name: "a"}, &fakeClient{tools: []mcp.Tool{{Name: "b.c"}}}))
	// "a.b" + ".c" collides with the agent already registered as "a.b.c".
	err := m.Attach(ctx, Config{Name: "a.b"}, &fakeClient{tools: []mcp.Tool{{Name: "first"}, {Name: "c"}}})
	require.Error(t, err)
	assert.False(t, reg.Has("a.b.first"))
	assert.NotContains(t, m.Status(), "a.b")
}

func TestLaunch_RequiresCommand(t *testing.T) {
	m := NewManager(agent.NewRegistry(), nil)
	var wErr *schema.Error
	require.ErrorAs(t, m.Launch(context.Background(), Config{Name: "x"}), &wErr)
	assert.Equal(t, schema.ErrCodeConfiguration, wErr.Code)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{pingErr: errors.New("down")}
	m := NewManager(agent.NewRegistry(), nil)
	require.NoError(t, m.Attach(ctx, Config{Name: "p"}, fc))

	for range maxHealthErrors - 1 {
		m.HealthCheck(ctx)
	}
	assert.Equal(t, StatusHealthy, m.Status()["p"])
	m.HealthCheck(ctx)
	assert.Equal(t, StatusUnhealthy, m.Status()["p"])

	fc.pingErr = nil
	m.HealthCheck(ctx)
	assert.Equal(t, StatusHealthy, m.Status()["p"])
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	reg := agent.NewRegistry()
	fc := &fakeClient{tools: []mcp.Tool{{Name: "t"}}}
	m := NewManager(reg, nil)
	require.NoError(t, m.Attach(ctx, Config{Name: "p"}, fc))
	require.True(t, reg.Has("p.t"))

	require.NoError(t, m.Stop("p"))
	assert.True(t, fc.closed)
	assert.False(t, reg.Has("p.t"))
	assert.Empty(t, m.Status())

	var wErr *schema.Error
	require.ErrorAs(t, m.Stop("p"), &wErr)
	assert.Equal(t, schema.ErrCodeNotFound, wErr.Code)
}
