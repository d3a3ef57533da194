package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Setup installs the process-wide slog default. Format "json" emits
// structured records for log shippers; anything else gets the colored
// console handler.
func Setup(level, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level, format)))
}

// NewHandler builds a handler without touching the global default.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	logLevel := ParseLevel(level)
	if format == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
	})
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger enriched with any trace and
// session identifiers carried by ctx.
func FromContext(ctx context.Context) *slog.Logger {
	log := slog.Default()
	if id := GetTraceID(ctx); id != "" {
		log = log.With("trace_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		log = log.With("session_id", id)
	}
	return log
}
