// Package logging builds the process logger on log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sweeney/pinbus/internal/config"
)

// Service is attached to every record.
const Service = "pinbus"

// New returns a JSON or text logger writing to w (stdout when nil) at the
// configured level, tagged with the service and node name.
func New(cfg config.LoggingConfig, node string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", Service),
		slog.String("node", node),
	}))
}

// ParseLevel maps debug, info, warn/warning and error; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Default is used before the configuration has been read.
func Default() *slog.Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text"}, "", os.Stderr)
}

// Discard drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
