package logging

import (
	"log/slog"
	"os"
)

// New creates a structured logger with text output, tagged with app
// and pid plus whatever domain attributes the caller supplies (the
// admission budget a server is running with, the chunk size a client
// is sending at, the user id a client is configured with, ...) so
// every line a binary logs carries the concerns that shaped its run
// without each call site having to repeat them.
// app: application name (e.g., "relaybusd")
// level: one of "debug", "info", "warn", "error" (default: "info")
func New(app string, level string, concerns ...slog.Attr) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)

	args := make([]any, 0, 4+len(concerns)*2)
	args = append(args, slog.String("app", app), slog.Int("pid", os.Getpid()))
	for _, a := range concerns {
		args = append(args, a)
	}
	return logger.With(args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
