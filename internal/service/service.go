// Package service ties the registry, validator, executor and store together
// for the CLI, the MCP server and the scheduler.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/internal/validation"
	"github.com/rendis/agentwave/pkg/schema"
)

// Deps holds what a Service is built from. Store is optional; without it
// templates and persisted thresholds are unavailable.
type Deps struct {
	Executor engine.ExecutorConfig
	Registry *agent.Registry
	Store    store.Store
	Logger   *slog.Logger
}

// Service runs plan documents and stored templates.
type Service struct {
	executor  *engine.DAGExecutor
	registry  *agent.Registry
	validator *validation.PlanValidator
	store     store.Store
	logger    *slog.Logger
}

// New builds the executor and applies persisted threshold overrides.
func New(ctx context.Context, deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "service needs an agent registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	cfg := deps.Executor
	cfg.Logger = logger
	exec, err := engine.NewDAGExecutor(cfg)
	if err != nil {
		return nil, err
	}

	v, err := validation.NewPlanValidator(deps.Registry)
	if err != nil {
		return nil, err
	}

	s := &Service{
		executor:  exec,
		registry:  deps.Registry,
		validator: v,
		store:     deps.Store,
		logger:    logger.With("component", "service"),
	}

	if s.store != nil {
		overrides, err := s.store.ListThresholds(ctx)
		if err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}
		for _, o := range overrides {
			exec.Checker().SetThreshold(o.Target, o.Threshold)
		}
		if len(overrides) > 0 {
			s.logger.InfoContext(ctx, "loaded threshold overrides", "count", len(overrides))
		}
	}
	return s, nil
}

// Executor exposes the underlying executor for metrics.
func (s *Service) Executor() *engine.DAGExecutor { return s.executor }

// Registry returns the agent registry.
func (s *Service) Registry() *agent.Registry { return s.registry }

// Store returns the configured store, possibly nil.
func (s *Service) Store() store.Store { return s.store }

// Validate runs every validation pass over def.
func (s *Service) Validate(def *schema.PlanDefinition) *schema.ValidationResult {
	return s.validator.Validate(def)
}

// RunDefinition validates, compiles and runs def. vars become the run's
// cognitive context variables; a string "session_id" entry sets the
// session.
func (s *Service) RunDefinition(ctx context.Context, def *schema.PlanDefinition, vars map[string]any) (*engine.RunResult, error) {
	if err := s.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	plan, dag, err := Compile(def, s.registry)
	if err != nil {
		return nil, err
	}

	cctx := &agent.CognitiveContext{Variables: vars}
	if sid, ok := vars["session_id"].(string); ok && sid != "" {
		cctx.SessionID = sid
	} else {
		cctx.SessionID = uuid.NewString()
	}
	if goals, ok := def.Metadata["goals"].([]any); ok {
		for _, g := range goals {
			if str, ok := g.(string); ok {
				cctx.Goals = append(cctx.Goals, str)
			}
		}
	}

	s.logger.InfoContext(ctx, "running plan", "plan", def.Name, "session_id", cctx.SessionID)
	return s.executor.Run(ctx, plan, dag, cctx)
}

// RunTemplate loads a stored template (version 0 is the latest) and runs it.
func (s *Service) RunTemplate(ctx context.Context, name string, version int, vars map[string]any) (*engine.RunResult, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no store configured")
	}
	tpl, err := s.store.GetTemplate(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return s.RunDefinition(ctx, &tpl.Definition, vars)
}

// Define validates def and stores it as the next version of its template.
func (s *Service) Define(ctx context.Context, def *schema.PlanDefinition, description string) (*store.PlanTemplate, error) {
	if s.store == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no store configured")
	}
	if err := s.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if description == "" {
		description = def.Description
	}
	tpl := &store.PlanTemplate{
		Name:        def.Name,
		Description: description,
		Definition:  *def,
	}
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "template defined", "template", tpl.Name, "version", tpl.Version)
	return tpl, nil
}

// SetThreshold applies an override for a node or agent ID and persists it
// when a store is configured.
func (s *Service) SetThreshold(ctx context.Context, target string, threshold float64) error {
	if target == "" {
		return schema.NewError(schema.ErrCodeValidation, "threshold target is required")
	}
	if threshold < 0 || threshold > 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "threshold %v is outside [0, 1]", threshold)
	}
	if s.store != nil {
		if err := s.store.SetThreshold(ctx, target, threshold); err != nil {
			return err
		}
	}
	s.executor.Checker().SetThreshold(target, threshold)
	return nil
}

// RemoveThreshold drops an override.
func (s *Service) RemoveThreshold(ctx context.Context, target string) error {
	if s.store != nil {
		if err := s.store.DeleteThreshold(ctx, target); err != nil {
			return err
		}
	}
	s.executor.Checker().RemoveThreshold(target)
	return nil
}

// Thresholds returns the active overrides.
func (s *Service) Thresholds() map[string]float64 {
	return s.executor.Checker().Thresholds()
}

// Agents lists registered agent metadata.
func (s *Service) Agents() []agent.Metadata {
	return s.registry.List()
}

// MetricsDocument renders the executor state as a JSON-shaped map, the
// form served to MCP clients and the HTTP API.
func (s *Service) MetricsDocument() (map[string]any, error) {
	exec := s.executor
	snapshot := map[string]any{
		"metrics":               exec.Metrics(),
		"average_execution_ms":  exec.AverageExecutionTime().Milliseconds(),
		"available_permits":     exec.AvailablePermits(),
		"peak_permits":          exec.PeakPermits(),
		"circuit_breakers":      exec.CircuitBreakers(),
		"confidence_thresholds": exec.Checker().Thresholds(),
		"global_threshold":      exec.Config().ConfidenceThreshold,
		"concurrency_limit":     exec.Config().ConcurrencyLimit,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return doc, nil
}
