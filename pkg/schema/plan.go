package schema

// ExecutionMode selects how the executor reacts to failed agents.
type ExecutionMode string

const (
	// ModePartial runs every wave and returns whatever succeeded.
	ModePartial ExecutionMode = "partial"
	// ModeFailFast aborts the plan after the first wave with a failed agent.
	ModeFailFast ExecutionMode = "fail_fast"
)

// PlanDefinition is the JSON/YAML document format for an execution plan.
// Waves may be omitted, in which case they are derived from DependsOn.
type PlanDefinition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        ExecutionMode    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes"`
	Waves       [][]string       `json:"waves,omitempty" yaml:"waves,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDefinition binds a node ID to a registered agent and its input.
type NodeDefinition struct {
	ID        string          `json:"id" yaml:"id"`
	Agent     string          `json:"agent" yaml:"agent"`
	Input     InputDefinition `json:"input,omitempty" yaml:"input,omitempty"`
	DependsOn []string        `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Threshold *float64        `json:"threshold,omitempty" yaml:"threshold,omitempty"` // per-agent override
}

// InputDefinition is the static input handed to a node's agent.
type InputDefinition struct {
	Type    string         `json:"type,omitempty" yaml:"type,omitempty"`
	Content string         `json:"content,omitempty" yaml:"content,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// NodeIDs returns node IDs in document order.
func (d *PlanDefinition) NodeIDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
