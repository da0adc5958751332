package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/agentwave/pkg/schema"
)

// validateDAG runs Kahn's algorithm over depends_on and reports cycles.
// It also warns about plans where every node is independent but explicit
// waves serialise them.
func validateDAG(def *schema.PlanDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		ids[n.ID] = true
	}

	reverse := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if !ids[dep] || seen[dep] {
				continue // bad refs are reported by the semantic stage
			}
			seen[dep] = true
			reverse[dep] = append(reverse[dep], n.ID)
			inDegree[n.ID]++
		}
	}

	queue := make([]string, 0, len(ids))
	for id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range reverse[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(ids) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("nodes", schema.ErrCodeCycleDetected,
			fmt.Sprintf("plan contains a dependency cycle through %v", stuck))
		return result
	}

	if len(def.Waves) > 1 && len(reverse) == 0 {
		result.AddWarning("waves", schema.ErrCodeValidation,
			fmt.Sprintf("no node declares dependencies but the plan uses %d waves", len(def.Waves)))
	}
	return result
}
