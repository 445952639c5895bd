// Package logging provides structured logging for the container runtime.
//
// Logging is built on logrus rather than the standard library so that log
// entries carry fields (container id, operation, pid, path) the way the
// rest of this codebase's ecosystem does it, and so text/json output
// switches with a single formatter swap.
package logging

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// ctxKey is the context key for the logger.
type ctxKey struct{}

var (
	// defaultLogger is the global logger instance.
	defaultLogger *logrus.Logger
	// loggerMu protects defaultLogger.
	loggerMu sync.RWMutex
)

func init() {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{})
	defaultLogger = l
}

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level.
	Level logrus.Level
	// Format is the output format ("text" or "json").
	Format string
	// Output is the log output destination.
	Output io.Writer
}

// NewLogger creates a new structured logger with the given configuration.
func NewLogger(cfg Config) *logrus.Logger {
	l := logrus.New()

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l.SetOutput(cfg.Output)
	l.SetLevel(cfg.Level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{})
	}

	return l
}

// SetDefault sets the default global logger.
func SetDefault(logger *logrus.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// Default returns the default global logger.
func Default() *logrus.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// WithContainer returns an entry tagged with the container id.
func WithContainer(logger *logrus.Logger, id string) *logrus.Entry {
	return logger.WithField("container_id", id)
}

// WithOperation returns an entry tagged with the operation name.
func WithOperation(logger *logrus.Logger, op string) *logrus.Entry {
	return logger.WithField("operation", op)
}

// WithPID returns an entry tagged with a process id.
func WithPID(logger *logrus.Logger, pid int) *logrus.Entry {
	return logger.WithField("pid", pid)
}

// WithPath returns an entry tagged with a filesystem path.
func WithPath(logger *logrus.Logger, path string) *logrus.Entry {
	return logger.WithField("path", path)
}

// ContextWithLogger returns a new context with the entry attached.
func ContextWithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext retrieves the logger entry from context.
// If no entry is found, returns an entry on the default logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(Default())
}

// ParseLevel parses a log level string into a logrus.Level.
// Returns logrus.InfoLevel for invalid values.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Helper functions for common log patterns, using the default logger.

func Info(args ...any)  { Default().Info(args...) }
func Warn(args ...any)  { Default().Warn(args...) }
func Error(args ...any) { Default().Error(args...) }
func Debug(args ...any) { Default().Debug(args...) }

func InfoContext(ctx context.Context, args ...any)  { FromContext(ctx).Info(args...) }
func WarnContext(ctx context.Context, args ...any)  { FromContext(ctx).Warn(args...) }
func ErrorContext(ctx context.Context, args ...any) { FromContext(ctx).Error(args...) }
func DebugContext(ctx context.Context, args ...any) { FromContext(ctx).Debug(args...) }
