package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentwave/internal/diagram"
	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

// runResponse is returned by agentwave.run. Error is set when the run was
// aborted; the partial result is still reported.
type runResponse struct {
	Run   *engine.RunResult `json:"run"`
	Error string            `json:"error,omitempty"`
}

// handleRun executes an inline plan or a stored template.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vars := mcp.ParseStringMap(req, "variables", nil)

	def, tplName, errResult := s.planArgument(req)
	if errResult != nil {
		return errResult, nil
	}

	if req.GetBool("notify", false) {
		var stop func()
		ctx, stop = s.watchRun(ctx)
		defer stop()
	}

	var (
		res    *engine.RunResult
		runErr error
	)
	if def != nil {
		res, runErr = s.svc.RunDefinition(ctx, def, vars)
	} else {
		res, runErr = s.svc.RunTemplate(ctx, tplName, req.GetInt("version", 0), vars)
	}
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	resp := runResponse{Run: res}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	return marshalResult(resp)
}

// watchRun pre-assigns a run ID and forwards the run's events to the
// calling session until the returned stop func is called.
func (s *Server) watchRun(ctx context.Context) (context.Context, func()) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil || s.hub == nil {
		return ctx, func() {}
	}

	runID := uuid.NewString()
	events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.logger.WarnContext(ctx, "event subscription failed", "error", err)
		return ctx, func() {}
	}
	s.sessions.Register(runID, session.SessionID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := s.notifier.Notify(context.WithoutCancel(ctx), runID, eventPayload(ev)); err != nil {
				s.logger.DebugContext(ctx, "notification failed", "run_id", runID, "error", err)
			}
		}
	}()

	return logging.WithRunID(ctx, runID), func() {
		cancel()
		<-done
		s.sessions.Forget(runID)
	}
}

// handleDefine stores a template and optionally schedules it.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	def, err := decodeDefinition(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cronExpr := req.GetString("cron", "")
	if cronExpr != "" {
		if s.scheduler == nil {
			return mcp.NewToolResultError("cron given but no scheduler is running"), nil
		}
		if _, err := s.scheduler.NextRun(cronExpr, time.Now()); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	tpl, err := s.svc.Define(ctx, def, req.GetString("description", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", err)), nil
	}

	resp := map[string]any{
		"name":    tpl.Name,
		"version": tpl.Version,
	}
	if cronExpr != "" {
		sch, err := s.scheduler.Add(ctx, tpl.Name, 0, cronExpr, mcp.ParseStringMap(req, "variables", nil))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("template stored but scheduling failed: %v", err)), nil
		}
		resp["schedule_id"] = sch.ID
		resp["next_run_at"] = sch.NextRunAt
	}
	return marshalResult(resp)
}

// handleMetrics returns the metrics document, optionally filtered by jq.
func (s *Server) handleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.svc.MetricsDocument()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	query := req.GetString("query", "")
	if query == "" {
		return marshalResult(doc)
	}
	out, err := s.jq.Query(ctx, query, doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(out)
}

func (s *Server) handleReset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.svc.Executor().ResetMetrics()
	s.logger.InfoContext(ctx, "metrics reset")
	return marshalResult(map[string]any{"ok": true})
}

func (s *Server) handleThreshold(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	target := req.GetString("target", "")

	switch action {
	case "list":
		return marshalResult(map[string]any{"thresholds": s.svc.Thresholds()})
	case "set":
		value, err := req.RequireFloat("value")
		if err != nil {
			return mcp.NewToolResultError("value is required"), nil
		}
		if err := s.svc.SetThreshold(ctx, target, value); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	case "remove":
		if target == "" {
			return mcp.NewToolResultError("target is required"), nil
		}
		if err := s.svc.RemoveThreshold(ctx, target); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
	return marshalResult(map[string]any{"ok": true, "thresholds": s.svc.Thresholds()})
}

func (s *Server) handleAgents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{"agents": s.svc.Agents()})
}

func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, tplName, errResult := s.planArgument(req)
	if errResult != nil {
		return errResult, nil
	}
	if def == nil {
		st := s.svc.Store()
		if st == nil {
			return mcp.NewToolResultError("no store configured"), nil
		}
		tpl, err := st.GetTemplate(ctx, tplName, req.GetInt("version", 0))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("template lookup failed: %v", err)), nil
		}
		def = &tpl.Definition
	}

	plan, dag, err := service.Compile(def, s.svc.Registry())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("compile failed: %v", err)), nil
	}
	model := diagram.Build(def.Name, plan, dag, nil)

	switch req.GetString("format", "mermaid") {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		return mcp.NewToolResultError("format must be mermaid or ascii"), nil
	}
}

// --- Internal helpers ---

// planArgument reads either an inline "plan" or a "template_name". Exactly
// one is required.
func (s *Server) planArgument(req mcp.CallToolRequest) (*schema.PlanDefinition, string, *mcp.CallToolResult) {
	raw := mcp.ParseStringMap(req, "plan", nil)
	name := req.GetString("template_name", "")

	switch {
	case raw != nil && name != "":
		return nil, "", mcp.NewToolResultError("give either plan or template_name, not both")
	case raw != nil:
		def, err := decodeDefinition(raw)
		if err != nil {
			return nil, "", mcp.NewToolResultError(err.Error())
		}
		return def, "", nil
	case name != "":
		return nil, name, nil
	default:
		return nil, "", mcp.NewToolResultError("plan or template_name is required")
	}
}

// decodeDefinition round-trips a JSON object into a PlanDefinition.
func decodeDefinition(raw map[string]any) (*schema.PlanDefinition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	return service.ParseDefinition(data)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
