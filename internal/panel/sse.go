package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/agentwave/internal/streaming"
)

// handleSSEGlobal streams events to the client via Server-Sent Events.
// Query params run_id, node_id and type (comma separated) narrow the stream.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := streaming.EventFilter{RunID: q.Get("run_id"), NodeID: q.Get("node_id")}
	if types := q.Get("type"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}
	s.serveSSE(w, r, filter)
}

// handleSSERun streams events for a specific run.
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{RunID: r.PathValue("id")})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
