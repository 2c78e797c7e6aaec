// Package logger builds the process-wide slog logger for the identity server.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup constructs the root logger and installs it as the slog default.
// Production gets a JSON handler for log shipping; other environments get
// text with debug enabled. LOG_LEVEL overrides the level in either mode.
func Setup(env string) *slog.Logger {
	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = parseLevel(v, level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", "veridian")
	slog.SetDefault(log)
	return log
}

func parseLevel(v string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
