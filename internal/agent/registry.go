package agent

import (
	"sort"
	"sync"

	"github.com/rendis/agentwave/pkg/schema"
)

// Registry is a thread-safe lookup of agents by metadata ID.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Duplicate IDs are a conflict.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent is nil")
	}
	meta := a.Metadata()
	if err := ValidateMetadata(meta); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[meta.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "agent %q already registered", meta.ID)
	}
	r.agents[meta.ID] = a
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not registered", id)
	}
	return a, nil
}

// Unregister removes id and reports whether it was registered.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[id]
	delete(r.agents, id)
	return ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// List returns every agent's metadata, sorted by ID.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateMetadata checks the required descriptor fields.
func ValidateMetadata(m Metadata) error {
	if m.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent id is required")
	}
	if m.BaseConfidence < 0 || m.BaseConfidence > 1 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"agent %q: base_confidence %.2f outside [0,1]", m.ID, m.BaseConfidence)
	}
	return nil
}
