package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

const planJSON = `{"name":"pipe","nodes":[
  {"id":"a","agent":"echo","input":{"content":"hi"}},
  {"id":"b","agent":"echo","depends_on":["a"]}
]}`

type testEnv struct {
	svc *service.Service
	hub *streaming.MemoryHub
	srv *httptest.Server
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()
	reg := agent.NewRegistry()
	require.NoError(t, agent.RegisterBuiltins(reg))
	hub := streaming.NewMemoryHub(16)

	deps := service.Deps{Executor: engine.DefaultExecutorConfig(), Registry: reg}
	deps.Executor.Events = hub
	if withStore {
		st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "panel.db"))
		require.NoError(t, err)
		require.NoError(t, st.Migrate(context.Background()))
		t.Cleanup(func() { _ = st.Close() })
		deps.Store = st
	}
	svc, err := service.New(context.Background(), deps)
	require.NoError(t, err)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "agentwave_plans_total 0\n")
	})
	srv := httptest.NewServer(NewServer(Deps{Service: svc, Hub: hub, Metrics: metrics}).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{svc: svc, hub: hub, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &doc))
	}
	return resp, doc
}

func TestHealthAndMetricsHandler(t *testing.T) {
	env := newTestEnv(t, false)

	resp, doc := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", doc["status"])

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "agentwave_plans_total")
}

func TestRunInline(t *testing.T) {
	env := newTestEnv(t, false)

	resp, doc := env.do(t, http.MethodPost, "/api/runs?var.session_id=s-1", planJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := doc["run"].(map[string]any)
	assert.Equal(t, string(schema.RunStatusDone), run["status"])
	assert.Len(t, run["outputs"], 2)
	assert.Nil(t, doc["error"])
}

func TestRunInline_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	resp, doc := env.do(t, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, schema.ErrCodeValidation, doc["code"])

	resp, _ = env.do(t, http.MethodPost, "/api/runs", `{"name":"x","nodes":[{"id":"a","agent":"ghost"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunInline_AbortedStillReportsResult(t *testing.T) {
	env := newTestEnv(t, false)
	plan := `{"name":"f","mode":"fail_fast","nodes":[
	  {"id":"bad","agent":"echo","input":{"params":{"error":"no","error_code":"VALIDATION_ERROR"}}},
	  {"id":"after","agent":"echo","depends_on":["bad"]}
	]}`

	resp, doc := env.do(t, http.MethodPost, "/api/runs", plan)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, doc["error"])
	assert.Equal(t, string(schema.RunStatusAborted), doc["run"].(map[string]any)["status"])
}

func TestMetricsDocumentAndReset(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodPost, "/api/runs", planJSON)

	resp, doc := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, doc["metrics"].(map[string]any)["total_executions"])

	resp, _ = env.do(t, http.MethodDelete, "/api/metrics", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, env.svc.Executor().TotalExecutions())
}

func TestAgents(t *testing.T) {
	env := newTestEnv(t, false)

	_, doc := env.do(t, http.MethodGet, "/api/agents", "")
	agents := doc["agents"].([]any)
	assert.Len(t, agents, 4)
}

func TestThresholds(t *testing.T) {
	env := newTestEnv(t, false)

	resp, _ := env.do(t, http.MethodPut, "/api/thresholds/echo", `{"value":0.95}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]float64{"echo": 0.95}, env.svc.Thresholds())

	_, doc := env.do(t, http.MethodGet, "/api/thresholds", "")
	assert.Equal(t, map[string]any{"echo": 0.95}, doc["thresholds"])

	resp, _ = env.do(t, http.MethodPut, "/api/thresholds/echo", `{"value":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPut, "/api/thresholds/echo", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/thresholds/echo", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.svc.Thresholds())
}

func TestTemplates_WithoutStore(t *testing.T) {
	env := newTestEnv(t, false)

	resp, doc := env.do(t, http.MethodGet, "/api/templates", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, schema.ErrCodeConfiguration, doc["code"])

	resp, _ = env.do(t, http.MethodGet, "/api/schedules", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTemplates_DefineAndRun(t *testing.T) {
	env := newTestEnv(t, true)

	resp, doc := env.do(t, http.MethodPost, "/api/templates?description=first", planJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, doc["version"])
	env.do(t, http.MethodPost, "/api/templates", planJSON)

	_, doc = env.do(t, http.MethodGet, "/api/templates/pipe", "")
	assert.EqualValues(t, 2, doc["version"])
	_, doc = env.do(t, http.MethodGet, "/api/templates/pipe?version=1", "")
	assert.Equal(t, "first", doc["description"])

	resp, _ = env.do(t, http.MethodGet, "/api/templates/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, doc = env.do(t, http.MethodPost, "/api/templates/pipe/runs?version=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(schema.RunStatusDone), doc["run"].(map[string]any)["status"])

	resp, doc = env.do(t, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, doc["schedules"])

	resp, _ = env.do(t, http.MethodDelete, "/api/schedules/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSE_StreamsRunEvents(t *testing.T) {
	env := newTestEnv(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/sse/runs/run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.NoError(t, env.hub.Publish(ctx, streaming.StreamEvent{RunID: "other", EventType: schema.EventRunStarted}))
	require.NoError(t, env.hub.Publish(ctx, streaming.StreamEvent{RunID: "run-1", NodeID: "a", EventType: schema.EventNodeStarted}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: node_started\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, `"run_id":"run-1"`)
	assert.Contains(t, line, `"node_id":"a"`)
}

func TestQueryVars(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?var.a=1&var.b=x&var.b=y&other=z&var.=q", nil)
	assert.Equal(t, map[string]any{"a": "1", "b": "y"}, queryVars(req))
}
