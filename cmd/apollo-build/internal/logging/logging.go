// Package logging configures the process-wide slog logger, following the
// same pattern as blinklabs-io/shai.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/opencardano/txforge/cmd/apollo-build/internal/config"
)

var globalLogger *slog.Logger

// Configure (re)builds the global logger from the current config.
func Configure() {
	cfg := config.GetConfig()
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("timestamp", a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
		Level: level,
	})
	globalLogger = slog.New(handler).With("component", "apollo-build")
}

// GetLogger returns the global logger, configuring it with defaults first
// if Configure hasn't been called yet.
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		Configure()
	}
	return globalLogger
}
