package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/scheduler"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/internal/streaming"
)

// --- Helpers ---

type testEnv struct {
	server *Server
	svc    *service.Service
	store  *store.LibSQLStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := agent.NewRegistry()
	require.NoError(t, agent.RegisterBuiltins(reg))

	hub := streaming.NewMemoryHub(0)
	cfg := engine.DefaultExecutorConfig()
	cfg.Events = hub

	svc, err := service.New(context.Background(), service.Deps{Executor: cfg, Registry: reg, Store: st})
	require.NoError(t, err)

	srv := NewServer(ServerDeps{
		Service:   svc,
		Scheduler: scheduler.New(st, svc, 0, nil),
		Hub:       hub,
	})
	return &testEnv{server: srv, svc: svc, store: st}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func twoWavePlan() map[string]any {
	return map[string]any{
		"name": "greet",
		"nodes": []any{
			map[string]any{"id": "hello", "agent": "echo", "input": map[string]any{"content": "hi"}},
			map[string]any{"id": "reply", "agent": "echo", "depends_on": []any{"hello"}},
		},
	}
}

// --- Tests ---

func TestRunTool_InlinePlan(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.handleRun(context.Background(), buildRequest("agentwave.run", map[string]any{
		"plan":      twoWavePlan(),
		"variables": map[string]any{"session_id": "sess-7"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	out := decode(t, res)
	run := out["run"].(map[string]any)
	assert.Equal(t, "done", run["status"])
	assert.Len(t, run["outputs"], 2)
	assert.Nil(t, out["error"])
	assert.Equal(t, int64(1), env.svc.Executor().TotalExecutions())
}

func TestRunTool_Template(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.handleDefine(context.Background(), buildRequest("agentwave.define", map[string]any{
		"definition": twoWavePlan(),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, float64(1), decode(t, res)["version"])

	res, err = env.server.handleRun(context.Background(), buildRequest("agentwave.run", map[string]any{
		"template_name": "greet",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
}

func TestRunTool_ArgumentErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := map[string]map[string]any{
		"neither":      {},
		"both":         {"plan": twoWavePlan(), "template_name": "greet"},
		"bad plan":     {"plan": map[string]any{"name": "x", "bogus": true}},
		"unknown tpl":  {"template_name": "missing"},
		"invalid plan": {"plan": map[string]any{"name": "x", "nodes": []any{map[string]any{"id": "a", "agent": "ghost"}}}},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := env.server.handleRun(context.Background(), buildRequest("agentwave.run", args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestRunTool_AbortedRunStillReportsResult(t *testing.T) {
	env := newTestEnv(t)

	plan := map[string]any{
		"name": "ff",
		"mode": "fail_fast",
		"nodes": []any{
			map[string]any{"id": "bad", "agent": "echo", "input": map[string]any{
				"params": map[string]any{"error": "nope", "error_code": "VALIDATION_ERROR"},
			}},
			map[string]any{"id": "after", "agent": "echo", "depends_on": []any{"bad"}},
		},
	}
	res, err := env.server.handleRun(context.Background(), buildRequest("agentwave.run", map[string]any{"plan": plan}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decode(t, res)
	assert.Contains(t, out["error"], "WAVE_FAILED")
	assert.Equal(t, "aborted", out["run"].(map[string]any)["status"])
}

func TestDefineTool_WithCron(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.handleDefine(context.Background(), buildRequest("agentwave.define", map[string]any{
		"definition": twoWavePlan(),
		"cron":       "0 6 * * *",
		"variables":  map[string]any{"tenant": "acme"},
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	out := decode(t, res)
	require.NotEmpty(t, out["schedule_id"])

	sch, err := env.store.GetSchedule(context.Background(), out["schedule_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "greet", sch.TemplateName)
	assert.Equal(t, "acme", sch.Session["tenant"])
}

func TestDefineTool_Errors(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.handleDefine(context.Background(), buildRequest("agentwave.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = env.server.handleDefine(context.Background(), buildRequest("agentwave.define", map[string]any{
		"definition": twoWavePlan(),
		"cron":       "every day",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	templates, err := env.store.ListTemplates(context.Background(), store.TemplateFilter{})
	require.NoError(t, err)
	assert.Empty(t, templates, "bad cron must not store the template")
}

func TestMetricsTool(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleRun(context.Background(), buildRequest("agentwave.run", map[string]any{"plan": twoWavePlan()}))
	require.NoError(t, err)

	res, err := env.server.handleMetrics(context.Background(), buildRequest("agentwave.metrics", nil))
	require.NoError(t, err)
	out := decode(t, res)
	metrics := out["metrics"].(map[string]any)
	assert.Equal(t, float64(2), metrics["successful_executions"])
	assert.Equal(t, float64(10), out["available_permits"])

	res, err = env.server.handleMetrics(context.Background(), buildRequest("agentwave.metrics", map[string]any{
		"query": ".metrics.wave_timings | length",
	}))
	require.NoError(t, err)
	assert.Equal(t, "2", resultText(t, res))

	res, err = env.server.handleMetrics(context.Background(), buildRequest("agentwave.metrics", map[string]any{"query": ".["}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestResetTool(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleRun(context.Background(), buildRequest("agentwave.run", map[string]any{"plan": twoWavePlan()}))
	require.NoError(t, err)
	require.Equal(t, int64(1), env.svc.Executor().TotalExecutions())

	res, err := env.server.handleReset(context.Background(), buildRequest("agentwave.reset", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Zero(t, env.svc.Executor().TotalExecutions())
}

func TestThresholdTool(t *testing.T) {
	env := newTestEnv(t)
	call := func(args map[string]any) *mcp.CallToolResult {
		res, err := env.server.handleThreshold(context.Background(), buildRequest("agentwave.threshold", args))
		require.NoError(t, err)
		return res
	}

	res := call(map[string]any{"action": "set", "target": "echo", "value": 0.95})
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, 0.95, decode(t, res)["thresholds"].(map[string]any)["echo"])

	persisted, err := env.store.ListThresholds(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	assert.True(t, call(map[string]any{"action": "set", "target": "echo", "value": 2.0}).IsError)
	assert.True(t, call(map[string]any{"action": "set", "target": "echo"}).IsError)
	assert.True(t, call(map[string]any{"action": "remove"}).IsError)
	assert.True(t, call(map[string]any{"action": "explode"}).IsError)

	res = call(map[string]any{"action": "remove", "target": "echo"})
	require.False(t, res.IsError)
	res = call(map[string]any{"action": "list"})
	assert.Empty(t, decode(t, res)["thresholds"])
}

func TestAgentsTool(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.server.handleAgents(context.Background(), buildRequest("agentwave.agents", nil))
	require.NoError(t, err)
	assert.Len(t, decode(t, res)["agents"], 4)
}

func TestDiagramTool(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.server.handleDiagram(context.Background(), buildRequest("agentwave.diagram", map[string]any{
		"plan": twoWavePlan(),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "hello --> reply")

	res, err = env.server.handleDiagram(context.Background(), buildRequest("agentwave.diagram", map[string]any{
		"plan":   twoWavePlan(),
		"format": "ascii",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Wave 2")

	res, err = env.server.handleDiagram(context.Background(), buildRequest("agentwave.diagram", map[string]any{
		"template_name": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestWatchRun_WithoutSessionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx, stop := env.server.watchRun(context.Background())
	stop()
	assert.Equal(t, context.Background(), ctx)
	assert.Zero(t, env.server.sessions.Len())
}
