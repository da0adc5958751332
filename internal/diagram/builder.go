package diagram

import (
	"sort"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/pkg/schema"
)

// Build lays a compiled plan out by wave. When res is non-nil every node
// gets its terminal status from the run; nodes the run never reached are
// pending.
func Build(title string, plan *engine.ExecutionPlan, dag *engine.AgentDAG, res *engine.RunResult) *Model {
	m := &Model{Title: title}
	if plan == nil {
		return m
	}

	statuses := statusIndex(res)
	for i, w := range plan.Waves {
		number := w.Number
		if number <= 0 {
			number = i + 1
		}
		wave := Wave{Number: number}
		for _, id := range w.NodeIDs {
			node := &Node{ID: id}
			if n, ok := dag.Get(id); ok {
				if n.Agent != nil {
					node.Agent = n.Agent.Metadata().ID
				}
				node.Threshold = n.Threshold
				for _, dep := range n.DependsOn {
					m.Edges = append(m.Edges, Edge{From: dep, To: id})
				}
			}
			if res != nil {
				node.Status = string(schema.NodeStatusPending)
				if s, ok := statuses[id]; ok {
					node.Status = string(s)
				}
				node.Error = res.Errors[id]
			}
			wave.Nodes = append(wave.Nodes, node)
		}
		m.Waves = append(m.Waves, wave)
	}

	sort.SliceStable(m.Edges, func(i, j int) bool {
		if m.Edges[i].To != m.Edges[j].To {
			return m.Edges[i].To < m.Edges[j].To
		}
		return m.Edges[i].From < m.Edges[j].From
	})
	return m
}

func statusIndex(res *engine.RunResult) map[string]schema.NodeStatus {
	out := make(map[string]schema.NodeStatus)
	if res == nil {
		return out
	}
	for _, id := range res.CompletedAgents {
		out[id] = schema.NodeStatusCompleted
	}
	for _, id := range res.SkippedAgents {
		out[id] = schema.NodeStatusSkipped
	}
	for _, id := range res.FailedAgents {
		out[id] = schema.NodeStatusFailed
	}
	return out
}
