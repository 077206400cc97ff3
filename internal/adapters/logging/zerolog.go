package logging

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/cellar/internal/ports"
	"github.com/rs/zerolog"
)

// JSONLogger writes one JSON object per entry through zerolog.
type JSONLogger struct {
	mu     *sync.RWMutex
	level  *ports.Level
	logger zerolog.Logger
}

// NewJSONLogger creates a JSON logger writing to w (os.Stderr when nil).
func NewJSONLogger(w io.Writer, level ports.Level) *JSONLogger {
	if w == nil {
		w = os.Stderr
	}
	lvl := level
	return &JSONLogger{
		mu:     &sync.RWMutex{},
		level:  &lvl,
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Debug logs a debug message.
func (l *JSONLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *JSONLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *JSONLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *JSONLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a logger whose entries always carry fields.
// The derived logger shares the level of its parent.
func (l *JSONLogger) With(fields ...ports.Field) ports.Logger {
	zctx := l.logger.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	return &JSONLogger{
		mu:     l.mu,
		level:  l.level,
		logger: zctx.Logger(),
	}
}

// Level returns the minimum log level.
func (l *JSONLogger) Level() ports.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.level
}

// SetLevel sets the minimum log level.
func (l *JSONLogger) SetLevel(level ports.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

func (l *JSONLogger) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	if level < l.Level() {
		return
	}

	event := l.logger.WithLevel(zerologLevel(level))
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}

func zerologLevel(level ports.Level) zerolog.Level {
	switch level {
	case ports.LevelDebug:
		return zerolog.DebugLevel
	case ports.LevelInfo:
		return zerolog.InfoLevel
	case ports.LevelWarn:
		return zerolog.WarnLevel
	case ports.LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.NoLevel
	}
}

// Ensure JSONLogger implements Logger.
var _ ports.Logger = (*JSONLogger)(nil)
