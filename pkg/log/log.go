package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
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

// New builds a logger writing to w in the given format ("json" or text).
func New(w io.Writer, logLevel, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func Setup(logLevel, format string) *slog.Logger {
	logger := New(os.Stderr, logLevel, format)
	slog.SetDefault(logger)

	return logger
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
