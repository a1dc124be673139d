package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the process-wide structured logger. level and format come
// from configuration rather than being re-read from the environment so tests
// can drive them directly.
func Setup(level, format string) *slog.Logger {
	parsed := slog.LevelInfo
	switch strings.ToUpper(level) {
	case "DEBUG":
		parsed = slog.LevelDebug
	case "INFO":
		parsed = slog.LevelInfo
	case "WARN":
		parsed = slog.LevelWarn
	case "ERROR":
		parsed = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: parsed}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
