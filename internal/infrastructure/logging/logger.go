package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/remoterelay-bridge/internal/infrastructure/config"
)

// logFilePermissions restricts log files to the service user.
const logFilePermissions = 0600

// Logger wraps slog.Logger with bridge-wide default fields.
//
// Every record carries service=remoterelay and the build version.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - With and Component return new loggers; the parent is never modified.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from configuration.
//
// Output "file" appends to cfg.File.Path. If the file cannot be opened the
// logger falls back to stderr and records a warning, so a bad path never
// stops the bridge from starting.
//
// Parameters:
//   - cfg: the logging section of config.yaml
//   - version: build version added to every record
//
// Returns:
//   - *Logger: configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	output, openErr := openOutput(cfg)
	l := newWithWriter(output, cfg, version)
	if openErr != nil {
		l.Warn("log file unavailable, writing to stderr", "path", cfg.File.Path, "error", openErr)
	}
	return l
}

// newWithWriter builds the handler chain on an explicit writer.
func newWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "remoterelay"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// openOutput resolves cfg.Output to a writer. On a file error it returns
// stderr along with the error.
func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePermissions)
		if err != nil {
			return os.Stderr, err
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn (or warning), error.
// Unrecognised values map to info.
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

// With returns a new Logger with additional default attributes.
//
// Parameters:
//   - args: key-value pairs added to every record
//
// Returns:
//   - *Logger: child logger; the receiver is unchanged
//
// Example:
//
//	coordLog := logger.With("entry_id", id)
//	coordLog.Info("poll failed") // includes entry_id
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded.
//
// It writes JSON to stdout at info level. serve replaces it as soon as the
// config has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
