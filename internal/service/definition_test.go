package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/pkg/schema"
)

const diamondYAML = `
name: diamond
mode: fail_fast
nodes:
  - id: fetch
    agent: echo
    input:
      content: hello
  - id: left
    agent: echo
    depends_on: [fetch]
    threshold: 0.5
  - id: right
    agent: echo
    depends_on: [fetch]
  - id: merge
    agent: echo
    depends_on: [left, right]
`

func newRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	require.NoError(t, agent.RegisterBuiltins(reg))
	return reg
}

func TestParseDefinition_YAML(t *testing.T) {
	def, err := ParseDefinition([]byte(diamondYAML))
	require.NoError(t, err)
	assert.Equal(t, "diamond", def.Name)
	assert.Equal(t, schema.ModeFailFast, def.Mode)
	require.Len(t, def.Nodes, 4)
	assert.Equal(t, []string{"left", "right"}, def.Nodes[3].DependsOn)
	require.NotNil(t, def.Nodes[1].Threshold)
	assert.Equal(t, 0.5, *def.Nodes[1].Threshold)
}

func TestParseDefinition_JSON(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"name":"p","nodes":[{"id":"a","agent":"echo"}],"waves":[["a"]]}`))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, def.Waves)
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "  \n",
		"unknown json": `{"name":"p","nodes":[],"bogus":1}`,
		"unknown yaml": "name: p\nbogus: 1\n",
		"malformed":    "{not json",
		"wrong type":   "name: p\nnodes: 3\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(doc))
			require.Error(t, err)
			var wErr *schema.Error
			require.ErrorAs(t, err, &wErr)
			assert.Equal(t, schema.ErrCodeValidation, wErr.Code)
		})
	}
}

func TestLoadDefinition_DefaultsNameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: a\n    agent: echo\n"), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", def.Name)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCompile_DerivesWaves(t *testing.T) {
	def, err := ParseDefinition([]byte(diamondYAML))
	require.NoError(t, err)

	plan, dag, err := Compile(def, newRegistry(t))
	require.NoError(t, err)

	require.Len(t, plan.Waves, 3)
	assert.Equal(t, []string{"fetch"}, plan.Waves[0].NodeIDs)
	assert.Equal(t, []string{"left", "right"}, plan.Waves[1].NodeIDs)
	assert.Equal(t, []string{"merge"}, plan.Waves[2].NodeIDs)
	assert.Equal(t, schema.ModeFailFast, plan.Mode)

	left, ok := dag.Get("left")
	require.True(t, ok)
	require.NotNil(t, left.Threshold)
	assert.Equal(t, 0.5, *left.Threshold)

	fetch, _ := dag.Get("fetch")
	assert.Equal(t, "hello", fetch.Input.Content)
	assert.Equal(t, "echo", fetch.Agent.Metadata().ID)
}

func TestCompile_ExplicitWaves(t *testing.T) {
	def := &schema.PlanDefinition{
		Name:  "p",
		Nodes: []schema.NodeDefinition{{ID: "a", Agent: "echo"}, {ID: "b", Agent: "echo"}},
		Waves: [][]string{{"b"}, {"a"}},
	}
	plan, _, err := Compile(def, newRegistry(t))
	require.NoError(t, err)
	require.Len(t, plan.Waves, 2)
	assert.Equal(t, 1, plan.Waves[0].Number)
	assert.Equal(t, []string{"b"}, plan.Waves[0].NodeIDs)
}

func TestCompile_UnknownAgent(t *testing.T) {
	def := &schema.PlanDefinition{Name: "p", Nodes: []schema.NodeDefinition{{ID: "a", Agent: "ghost"}}}
	_, _, err := Compile(def, newRegistry(t))
	require.Error(t, err)
	var wErr *schema.Error
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, schema.ErrCodeNotFound, wErr.Code)

	_, _, err = Compile(nil, newRegistry(t))
	assert.Error(t, err)
}

func TestCompile_CycleRejected(t *testing.T) {
	def := &schema.PlanDefinition{Name: "p", Nodes: []schema.NodeDefinition{
		{ID: "a", Agent: "echo", DependsOn: []string{"b"}},
		{ID: "b", Agent: "echo", DependsOn: []string{"a"}},
	}}
	_, _, err := Compile(def, newRegistry(t))
	require.Error(t, err)
	var wErr *schema.Error
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, schema.ErrCodeCycleDetected, wErr.Code)
}
