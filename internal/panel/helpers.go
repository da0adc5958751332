package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rendis/agentwave/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps err onto a status code and writes it.
func writeErr(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var se *schema.Error
	if errors.As(err, &se) {
		body["code"] = se.Code
		if se.Details != nil {
			body["details"] = se.Details
		}
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	var se *schema.Error
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryVars turns every "var.<key>" query parameter into a variable.
func queryVars(r *http.Request) map[string]any {
	vars := map[string]any{}
	for key, values := range r.URL.Query() {
		if name, ok := strings.CutPrefix(key, "var."); ok && name != "" && len(values) > 0 {
			vars[name] = values[len(values)-1]
		}
	}
	return vars
}
