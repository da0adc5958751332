package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/pkg/schema"
)

// AgentResolver looks agents up by ID. Satisfied by *agent.Registry.
type AgentResolver interface {
	Get(id string) (agent.Agent, error)
}

// ParseDefinition decodes a plan document. Documents starting with '{' are
// read as JSON, everything else as YAML. Unknown fields are rejected.
func ParseDefinition(data []byte) (*schema.PlanDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan document is empty")
	}

	var def schema.PlanDefinition
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid plan json: %s", err.Error()).WithCause(err)
		}
		return &def, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid plan yaml: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// LoadDefinition reads and parses a plan file.
func LoadDefinition(path string) (*schema.PlanDefinition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}

// Compile resolves every node's agent and produces the executable plan.
// Explicit waves are used as written; otherwise they are derived from
// depends_on. Node thresholds ride on the DAG nodes.
func Compile(def *schema.PlanDefinition, agents AgentResolver) (*engine.ExecutionPlan, *engine.AgentDAG, error) {
	if def == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "plan definition is nil")
	}

	nodes := make([]*engine.AgentNode, 0, len(def.Nodes))
	for _, nd := range def.Nodes {
		a, err := agents.Get(nd.Agent)
		if err != nil {
			return nil, nil, fmt.Errorf("node %s: %w", nd.ID, err)
		}
		nodes = append(nodes, &engine.AgentNode{
			ID:    nd.ID,
			Agent: a,
			Input: agent.Input{
				Type:    nd.Input.Type,
				Content: nd.Input.Content,
				Params:  maps.Clone(nd.Input.Params),
			},
			DependsOn: append([]string(nil), nd.DependsOn...),
			Threshold: nd.Threshold,
		})
	}
	dag := engine.NewAgentDAG(nodes...)

	var plan *engine.ExecutionPlan
	if len(def.Waves) > 0 {
		plan = engine.NewExecutionPlan(def.Waves...)
	} else {
		var err error
		if plan, err = engine.BuildPlan(dag, nil); err != nil {
			return nil, nil, err
		}
	}
	plan.Mode = def.Mode
	return plan, dag, nil
}
