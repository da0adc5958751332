package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/pkg/schema"
)

func nodes(deps map[string][]string) *AgentDAG {
	dag := NewAgentDAG()
	for id, d := range deps {
		dag.Nodes[id] = &AgentNode{ID: id, Agent: newFakeAgent(id, 0.9), DependsOn: d}
	}
	return dag
}

func waveIDs(p *ExecutionPlan) [][]string {
	out := make([][]string, 0, len(p.Waves))
	for _, w := range p.Waves {
		out = append(out, w.NodeIDs)
	}
	return out
}

func TestBuildPlan_Linear(t *testing.T) {
	plan, err := BuildPlan(nodes(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, waveIDs(plan))
	assert.Equal(t, 3, plan.Waves[2].Number)
}

func TestBuildPlan_Diamond(t *testing.T) {
	plan, err := BuildPlan(nodes(map[string][]string{
		"fetch":   nil,
		"parse":   {"fetch"},
		"enrich":  {"fetch"},
		"publish": {"parse", "enrich"},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"fetch"}, {"enrich", "parse"}, {"publish"}}, waveIDs(plan))
	assert.Equal(t, 4, plan.NodeCount())
}

func TestBuildPlan_LongestPathWins(t *testing.T) {
	// d depends on a directly and on c via b; it must land after c.
	plan, err := BuildPlan(nodes(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"d": {"a", "c"},
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}, {"d"}}, waveIDs(plan))
}

func TestBuildPlan_ExplicitDeps(t *testing.T) {
	dag := nodes(map[string][]string{"a": nil, "b": nil})
	plan, err := BuildPlan(dag, map[string][]string{"a": {"b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b"}, {"a"}}, waveIDs(plan))
}

func TestBuildPlan_DuplicateDependency(t *testing.T) {
	plan, err := BuildPlan(nodes(map[string][]string{"a": nil, "b": {"a", "a"}}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, waveIDs(plan))
}

func TestBuildPlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		deps map[string][]string
		code string
	}{
		{"cycle", map[string][]string{"a": {"b"}, "b": {"a"}}, schema.ErrCodeCycleDetected},
		{"self", map[string][]string{"a": {"a"}}, schema.ErrCodeCycleDetected},
		{"unknown", map[string][]string{"a": {"ghost"}}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(nodes(tt.deps), nil)
			require.Error(t, err)
			var wErr *schema.Error
			require.ErrorAs(t, err, &wErr)
			assert.Equal(t, tt.code, wErr.Code)
		})
	}
}

func TestBuildPlan_EmptyDAG(t *testing.T) {
	_, err := BuildPlan(NewAgentDAG(), nil)
	require.Error(t, err)
	_, err = BuildPlan(nil, nil)
	require.Error(t, err)
}

func TestAgentDAG_Get(t *testing.T) {
	dag := nodes(map[string][]string{"a": nil})
	n, ok := dag.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", n.ID)

	_, ok = dag.Get("b")
	assert.False(t, ok)

	var nilDAG *AgentDAG
	_, ok = nilDAG.Get("a")
	assert.False(t, ok)
}
