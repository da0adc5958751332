package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/agentwave/internal/streaming"
)

// Notifier pushes run events to whoever is watching the run.
type Notifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements Notifier with MCP notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to registered sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends payload to the session watching runID. Best-effort: returns
// nil when nobody watches the run or the session is gone.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// eventPayload renders a stream event as notification params.
func eventPayload(ev streaming.StreamEvent) map[string]any {
	data := map[string]any{
		"run_id":     ev.RunID,
		"event_type": ev.EventType,
		"timestamp":  ev.Timestamp,
	}
	if ev.NodeID != "" {
		data["node_id"] = ev.NodeID
	}
	if ev.Wave > 0 {
		data["wave"] = ev.Wave
	}
	if ev.Payload != nil {
		data["payload"] = ev.Payload
	}
	return map[string]any{
		"level":  "info",
		"logger": "agentwave",
		"data":   data,
	}
}
