package validation

import (
	"fmt"

	"github.com/rendis/agentwave/pkg/schema"
)

// validateSemantic checks what JSON Schema cannot: unique node IDs,
// registered agents, dependency references and explicit wave layout.
func validateSemantic(def *schema.PlanDefinition, lookup AgentLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	index := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if prev, dup := index[n.ID]; dup {
			result.AddError(path+".id", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate node id %q (first declared at nodes[%d])", n.ID, prev))
			continue
		}
		index[n.ID] = i

		if lookup != nil && !lookup.Has(n.Agent) {
			result.AddError(path+".agent", schema.ErrCodeNotFound,
				fmt.Sprintf("agent %q not registered", n.Agent))
		}
	}

	for i, n := range def.Nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for j, dep := range n.DependsOn {
			path := fmt.Sprintf("nodes[%d].depends_on[%d]", i, j)
			switch {
			case dep == n.ID:
				result.AddError(path, schema.ErrCodeCycleDetected, fmt.Sprintf("node %q depends on itself", n.ID))
			case !hasNode(index, dep):
				result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", dep))
			case seen[dep]:
				result.AddWarning(path, schema.ErrCodeValidation, fmt.Sprintf("duplicate dependency %q", dep))
			}
			seen[dep] = true
		}
	}

	if len(def.Waves) > 0 {
		validateWaves(def, index, result)
	}
	return result
}

// validateWaves requires every node exactly once and every dependency in a
// strictly earlier wave.
func validateWaves(def *schema.PlanDefinition, index map[string]int, result *schema.ValidationResult) {
	waveOf := make(map[string]int, len(def.Nodes))
	for w, wave := range def.Waves {
		for j, id := range wave {
			path := fmt.Sprintf("waves[%d][%d]", w, j)
			if !hasNode(index, id) {
				result.AddError(path, schema.ErrCodeValidation, fmt.Sprintf("references non-existent node %q", id))
				continue
			}
			if prev, dup := waveOf[id]; dup {
				result.AddError(path, schema.ErrCodeConflict,
					fmt.Sprintf("node %q already scheduled in wave %d", id, prev))
				continue
			}
			waveOf[id] = w
		}
	}

	for i, n := range def.Nodes {
		w, ok := waveOf[n.ID]
		if !ok {
			result.AddError(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is not scheduled in any wave", n.ID))
			continue
		}
		for _, dep := range n.DependsOn {
			dw, ok := waveOf[dep]
			if ok && dw >= w {
				result.AddError(fmt.Sprintf("waves[%d]", w), schema.ErrCodeValidation,
					fmt.Sprintf("node %q runs in wave %d but its dependency %q runs in wave %d", n.ID, w, dep, dw))
			}
		}
	}
}

func hasNode(index map[string]int, id string) bool {
	_, ok := index[id]
	return ok
}
