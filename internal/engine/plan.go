package engine

import (
	"sort"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/pkg/schema"
)

// AgentNode binds a node ID to the agent that runs it. Immutable during a run.
type AgentNode struct {
	ID        string
	Agent     agent.Agent
	Input     agent.Input
	DependsOn []string // outputs of these nodes are handed to the agent
	Threshold *float64 // optional, beats checker overrides
}

// AgentDAG maps node IDs to nodes. The executor only reads it.
type AgentDAG struct {
	Nodes map[string]*AgentNode
}

// NewAgentDAG indexes nodes by ID.
func NewAgentDAG(nodes ...*AgentNode) *AgentDAG {
	d := &AgentDAG{Nodes: make(map[string]*AgentNode, len(nodes))}
	for _, n := range nodes {
		d.Nodes[n.ID] = n
	}
	return d
}

// Get returns the node for id.
func (d *AgentDAG) Get(id string) (*AgentNode, bool) {
	if d == nil {
		return nil, false
	}
	n, ok := d.Nodes[id]
	return n, ok
}

// ExecutionWave is a set of node IDs whose dependencies are satisfied by
// earlier waves. Number is 1-based.
type ExecutionWave struct {
	Number  int      `json:"number"`
	NodeIDs []string `json:"node_ids"`
}

// ExecutionPlan is the ordered sequence of waves. Waves run strictly in order.
// A non-empty Mode overrides the executor's configured mode for this plan.
type ExecutionPlan struct {
	Waves []ExecutionWave      `json:"waves"`
	Mode  schema.ExecutionMode `json:"mode,omitempty"`
}

// NewExecutionPlan numbers the given waves in order.
func NewExecutionPlan(waves ...[]string) *ExecutionPlan {
	p := &ExecutionPlan{Waves: make([]ExecutionWave, 0, len(waves))}
	for i, ids := range waves {
		p.Waves = append(p.Waves, ExecutionWave{Number: i + 1, NodeIDs: ids})
	}
	return p
}

// NodeCount returns the number of node slots across all waves.
func (p *ExecutionPlan) NodeCount() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.NodeIDs)
	}
	return n
}

// BuildPlan partitions the DAG into waves by topological depth.
// deps maps a node ID to the IDs it depends on; when nil, each node's
// DependsOn is used. Unknown dependencies, self references and cycles are
// rejected. Node IDs inside a wave are sorted for deterministic plans.
func BuildPlan(dag *AgentDAG, deps map[string][]string) (*ExecutionPlan, error) {
	if dag == nil || len(dag.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "dag has no nodes")
	}

	if deps == nil {
		deps = make(map[string][]string, len(dag.Nodes))
		for id, n := range dag.Nodes {
			deps[id] = n.DependsOn
		}
	}

	reverse := make(map[string][]string, len(dag.Nodes))
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		seen := make(map[string]bool, len(deps[id]))
		for _, dep := range deps[id] {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", id)
			}
			if _, ok := dag.Nodes[dep]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s depends on unknown node %s", id, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			reverse[dep] = append(reverse[dep], id)
			inDegree[id]++
		}
	}

	// Kahn's algorithm, tracking depth as we go.
	queue := make([]string, 0, len(dag.Nodes))
	for id := range dag.Nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	depth := make(map[string]int, len(dag.Nodes))
	maxDepth := 0
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		dependents := reverse[id]
		sort.Strings(dependents)
		for _, next := range dependents {
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
				maxDepth = max(maxDepth, d)
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "dag contains a cycle")
	}

	levels := make([][]string, maxDepth+1)
	for id, d := range depth {
		levels[d] = append(levels[d], id)
	}
	for id := range dag.Nodes {
		if _, ok := depth[id]; !ok {
			levels[0] = append(levels[0], id)
		}
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return NewExecutionPlan(levels...), nil
}
