package validation

import "github.com/rendis/agentwave/pkg/schema"

// Validator checks plan documents before they are compiled.
type Validator interface {
	ValidateDefinition(def *schema.PlanDefinition) error
}

// AgentLookup reports whether an agent ID is registered.
// *agent.Registry satisfies it.
type AgentLookup interface {
	Has(id string) bool
}
