package main

import (
	"log/slog"
	"os"

	"github.com/haileyok/osprey/config"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// setupLogger builds the process logger from the validated service config
// and the --log-format flag. Unknown formats fall back to JSON.
func setupLogger(svc config.ServiceConfig, format string) *slog.Logger {
	level, ok := logLevels[svc.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", svc.Name,
		"environment", svc.Environment,
		"version", Version,
	)
}
