package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "mbgate"

// Logger is the gateway's structured logger. It embeds *slog.Logger, so it
// satisfies the narrow Logger interfaces of the mqtt, modbus and mbgate
// packages without an adapter.
//
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the process config.
// Output "stderr" writes to stderr; anything else writes to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	output := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return newWithWriter(cfg, version, output)
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	handler := newHandler(cfg.Format, output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// newHandler picks the text handler for "text" and JSON otherwise.
func newHandler(format string, output io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(output, opts)
	}
	return slog.NewJSONHandler(output, opts)
}

// parseLevel maps debug, info, warn (or warning) and error to slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger carrying extra attributes. The gateway tags
// each component's logger this way:
//
//	pumpLog := log.With("component", "pump")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the JSON info-level stdout logger used until the process
// config has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
