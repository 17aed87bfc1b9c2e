package bootenv

import (
	"context"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel orders log events by severity.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// LogEvent describes one storage or rule operation for logging. Backend and
// Slot are empty for events that are not tied to a stored copy.
type LogEvent struct {
	Level    LogLevel
	Op       string
	Message  string
	Backend  string
	Slot     string
	Key      string
	Duration time.Duration
	Err      error
	Fields   map[string]any
}

// Logger records log events.
type Logger interface {
	Log(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// Log implements Logger.
func (f LoggerFunc) Log(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) Log(LogEvent) {}

// NopLogger returns a Logger that discards every event.
func NopLogger() Logger {
	return noopLogger{}
}

// LoggerOrNop returns logger, or the no-op logger when logger is nil.
func LoggerOrNop(logger Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return logger
}

type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger writes events to a log/slog logger. A nil logger uses
// slog.Default.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogLogger{logger: logger.With(slog.String("component", "bootenv"))}
}

func (l slogLogger) Log(event LogEvent) {
	attrs := make([]slog.Attr, 0, 6+len(event.Fields))
	if event.Op != "" {
		attrs = append(attrs, slog.String("op", event.Op))
	}
	if event.Backend != "" {
		attrs = append(attrs, slog.String("backend", event.Backend))
	}
	if event.Slot != "" {
		attrs = append(attrs, slog.String("slot", event.Slot))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if event.Err != nil {
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	for name, value := range event.Fields {
		attrs = append(attrs, slog.Any(name, value))
	}
	l.logger.LogAttrs(context.Background(), slogLevel(event.Level), event.Message, attrs...)
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger writes events to a zerolog logger.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return zerologLogger{logger: logger.With().Str("component", "bootenv").Logger()}
}

func (l zerologLogger) Log(event LogEvent) {
	var entry *zerolog.Event
	switch event.Level {
	case LevelDebug:
		entry = l.logger.Debug()
	case LevelWarn:
		entry = l.logger.Warn()
	case LevelError:
		entry = l.logger.Error()
	default:
		entry = l.logger.Info()
	}
	if event.Op != "" {
		entry = entry.Str("op", event.Op)
	}
	if event.Backend != "" {
		entry = entry.Str("backend", event.Backend)
	}
	if event.Slot != "" {
		entry = entry.Str("slot", event.Slot)
	}
	if event.Key != "" {
		entry = entry.Str("key", event.Key)
	}
	if event.Duration > 0 {
		entry = entry.Dur("duration", event.Duration)
	}
	if event.Err != nil {
		entry = entry.Err(event.Err)
	}
	if len(event.Fields) > 0 {
		entry = entry.Fields(event.Fields)
	}
	entry.Msg(event.Message)
}
