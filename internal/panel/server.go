// Package panel serves the HTTP API next to the MCP server: JSON endpoints
// over the service, Server-Sent Events from the event hub and an optional
// Prometheus handler.
package panel

import (
	"log/slog"
	"net/http"

	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/streaming"
)

// maxBodyBytes caps plan documents posted to the API.
const maxBodyBytes = 1 << 20

// Deps holds the dependencies for the panel server.
type Deps struct {
	Service *service.Service
	Hub     streaming.EventHub
	Metrics http.Handler // mounted at /metrics when set
	Logger  *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("DELETE /api/metrics", s.handleResetMetrics)
	mux.HandleFunc("GET /api/agents", s.handleAgents)

	mux.HandleFunc("GET /api/thresholds", s.handleThresholds)
	mux.HandleFunc("PUT /api/thresholds/{target}", s.handleSetThreshold)
	mux.HandleFunc("DELETE /api/thresholds/{target}", s.handleRemoveThreshold)

	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("POST /api/templates", s.handleDefine)
	mux.HandleFunc("GET /api/templates/{name}", s.handleTemplate)
	mux.HandleFunc("POST /api/templates/{name}/runs", s.handleRunTemplate)
	mux.HandleFunc("GET /api/schedules", s.handleSchedules)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}
