package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level is shared by every logger built here so that debug output can be
// switched on while the process is running.
var Level = new(slog.LevelVar)

var logger = New(os.Stdout)

func Logger() *slog.Logger {
	return logger
}

// New builds a logger writing to w. Terminals get human-readable text,
// anything else gets JSON.
func New(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// SetLevel parses debug|info|warn|error; unknown values leave the level unchanged.
func SetLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		Level.Set(slog.LevelDebug)
	case "info":
		Level.Set(slog.LevelInfo)
	case "warn", "warning":
		Level.Set(slog.LevelWarn)
	case "error":
		Level.Set(slog.LevelError)
	}
}

// Discard is a logger for tests and embedders that want no output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
