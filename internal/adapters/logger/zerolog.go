package logger

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"spreadarb/internal/ports"
)

// ZeroLogger implements ports.Logger on zerolog, emitting one JSON object
// per line for log shippers.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger creates a JSON logger writing to the given writer.
func NewZeroLogger(w io.Writer, level LogLevel) *ZeroLogger {
	zl := zerolog.New(w).With().Timestamp().Logger().Level(zerologLevel(level))
	return &ZeroLogger{logger: zl}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func applyFields(ev *zerolog.Event, fields []map[string]interface{}) *zerolog.Event {
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	return ev
}

// Debug logs a message at Debug level.
func (l *ZeroLogger) Debug(_ context.Context, msg string, fields ...map[string]interface{}) {
	applyFields(l.logger.Debug(), fields).Msg(msg)
}

// Info logs a message at Info level.
func (l *ZeroLogger) Info(_ context.Context, msg string, fields ...map[string]interface{}) {
	applyFields(l.logger.Info(), fields).Msg(msg)
}

// Warn logs a message at Warning level.
func (l *ZeroLogger) Warn(_ context.Context, msg string, fields ...map[string]interface{}) {
	applyFields(l.logger.Warn(), fields).Msg(msg)
}

// Error logs an error message at Error level.
func (l *ZeroLogger) Error(_ context.Context, err error, msg string, fields ...map[string]interface{}) {
	applyFields(l.logger.Error().Err(err), fields).Msg(msg)
}

// ensure both implementations satisfy the port.
var (
	_ ports.Logger = (*StdLogger)(nil)
	_ ports.Logger = (*ZeroLogger)(nil)
)
