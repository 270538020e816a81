package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init builds the process-wide JSON logger. Callback secrets and signatures
// routinely pass through log call sites, so every handler is wrapped in the
// redactor.
func Init(workerID, level string) *slog.Logger {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	handler = newRedactingHandler(handler)
	logger := slog.New(handler).With("worker_id", workerID)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
