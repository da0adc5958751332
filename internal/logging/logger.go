package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config string onto a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON logger writing to w, wrapped in a
// CorrelationHandler.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
