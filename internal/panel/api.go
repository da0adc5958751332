package panel

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/pkg/schema"
)

// runResponse carries a run result; Error is set when the run aborted.
type runResponse struct {
	Run   *engine.RunResult `json:"run"`
	Error string            `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.deps.Service.MetricsDocument()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.deps.Service.Executor().ResetMetrics()
	s.deps.Logger.InfoContext(r.Context(), "metrics reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.deps.Service.Agents()})
}

func (s *Server) handleThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds": s.deps.Service.Thresholds(),
		"global":     s.deps.Service.Executor().Config().ConfidenceThreshold,
	})
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Value == nil {
		writeError(w, http.StatusBadRequest, `body must be {"value": <0..1>}`)
		return
	}
	target := r.PathValue("target")
	if err := s.deps.Service.SetThreshold(r.Context(), target, *body.Value); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "threshold": *body.Value})
}

func (s *Server) handleRemoveThreshold(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Service.RemoveThreshold(r.Context(), r.PathValue("target")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRun executes a plan document posted as JSON or YAML.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Service.RunDefinition(r.Context(), def, queryVars(r))
	s.writeRun(w, res, err)
}

func (s *Server) handleRunTemplate(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Service.RunTemplate(r.Context(), r.PathValue("name"), queryInt(r, "version", 0), queryVars(r))
	s.writeRun(w, res, err)
}

func (s *Server) writeRun(w http.ResponseWriter, res *engine.RunResult, err error) {
	if res == nil {
		writeErr(w, err)
		return
	}
	resp := runResponse{Run: res}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDefine(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}
	tpl, err := s.deps.Service.Define(r.Context(), def, r.URL.Query().Get("description"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireStore(w)
	if !ok {
		return
	}
	templates, err := st.ListTemplates(r.Context(), store.TemplateFilter{
		Name:        r.URL.Query().Get("name"),
		AllVersions: r.URL.Query().Get("all") == "true",
		Limit:       queryInt(r, "limit", 100),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireStore(w)
	if !ok {
		return
	}
	tpl, err := st.GetTemplate(r.Context(), r.PathValue("name"), queryInt(r, "version", 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireStore(w)
	if !ok {
		return
	}
	schedules, err := st.ListSchedules(r.Context(), store.ScheduleFilter{Limit: queryInt(r, "limit", 100)})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	st, ok := s.requireStore(w)
	if !ok {
		return
	}
	if err := st.DeleteSchedule(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireStore returns the service store or writes 503 when there is none.
func (s *Server) requireStore(w http.ResponseWriter) (store.Store, bool) {
	st := s.deps.Service.Store()
	if st == nil {
		writeErr(w, schema.NewError(schema.ErrCodeConfiguration, "no store configured"))
		return nil, false
	}
	return st, true
}

func (s *Server) readDefinition(w http.ResponseWriter, r *http.Request) (*schema.PlanDefinition, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return nil, false
	}
	def, err := service.ParseDefinition(data)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return def, true
}
