package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentwave/internal/expressions"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/scheduler"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/streaming"
)

// ServerDeps holds the dependencies for creating a Server. Scheduler and
// Hub are optional: without a scheduler agentwave.define rejects cron, and
// without a hub agentwave.run cannot stream events.
type ServerDeps struct {
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server wraps an MCP server with the agentwave tool handlers.
type Server struct {
	svc       *service.Service
	scheduler *scheduler.Scheduler
	hub       streaming.EventHub
	jq        *expressions.GoJQEngine
	sessions  *SessionRegistry
	notifier  Notifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		svc:       deps.Service,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		jq:        expressions.NewGoJQEngine(),
		sessions:  NewSessionRegistry(),
		logger:    logger.With("component", "mcp"),
	}

	mcpSrv := server.NewMCPServer(
		"agentwave",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("agentwave runs DAGs of agents in dependency waves with confidence gating. "+
			"Use agentwave.run to execute a plan or stored template, agentwave.define to store a template "+
			"(optionally on a cron schedule), agentwave.metrics and agentwave.reset for executor metrics, "+
			"agentwave.threshold to tune confidence thresholds, agentwave.agents to list agents and "+
			"agentwave.diagram to draw a plan."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Version is reported in the MCP handshake; the CLI overrides it at build time.
var Version = "dev"

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: metricsTool(), Handler: s.handleMetrics},
		{Tool: resetTool(), Handler: s.handleReset},
		{Tool: thresholdTool(), Handler: s.handleThreshold},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("agentwave.run",
		mcp.WithDescription("Execute a plan, inline or from a stored template"),
		mcp.WithObject("plan", mcp.Description("Inline plan definition (name, mode, nodes, waves)")),
		mcp.WithString("template_name", mcp.Description("Stored template to run instead of an inline plan")),
		mcp.WithNumber("version", mcp.Description("Template version (default: latest)")),
		mcp.WithObject("variables", mcp.Description("Variables for the run's cognitive context; session_id sets the session")),
		mcp.WithBoolean("notify", mcp.Description("Stream run events to this session as notifications")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("agentwave.define",
		mcp.WithDescription("Store a plan as the next version of a template"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Plan definition object")),
		mcp.WithString("description", mcp.Description("Template description")),
		mcp.WithString("cron", mcp.Description("Cron expression; when set the template also runs on this schedule")),
		mcp.WithObject("variables", mcp.Description("Variables passed to scheduled runs")),
	)
}

func metricsTool() mcp.Tool {
	return mcp.NewTool("agentwave.metrics",
		mcp.WithDescription("Read executor metrics"),
		mcp.WithString("query", mcp.Description("Optional jq query applied to the metrics document")),
	)
}

func resetTool() mcp.Tool {
	return mcp.NewTool("agentwave.reset",
		mcp.WithDescription("Reset executor metrics to zero"),
	)
}

func thresholdTool() mcp.Tool {
	return mcp.NewTool("agentwave.threshold",
		mcp.WithDescription("List, set or remove confidence threshold overrides"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "set", "remove"),
			mcp.Description("What to do"),
		),
		mcp.WithString("target", mcp.Description("Node or agent ID (set, remove)")),
		mcp.WithNumber("value", mcp.Description("Threshold in [0, 1] (set)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("agentwave.agents",
		mcp.WithDescription("List registered agents"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("agentwave.diagram",
		mcp.WithDescription("Draw a plan as a Mermaid flowchart or ASCII boxes"),
		mcp.WithObject("plan", mcp.Description("Inline plan definition")),
		mcp.WithString("template_name", mcp.Description("Stored template to draw instead of an inline plan")),
		mcp.WithNumber("version", mcp.Description("Template version (default: latest)")),
		mcp.WithString("format", mcp.Enum("mermaid", "ascii"), mcp.Description("Output format (default: mermaid)")),
	)
}
