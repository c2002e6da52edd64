package rtconsole

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LogLevel is the minimum severity a Logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelOff
)

// Environment variables read by NewLoggerFromEnv.
const (
	EnvLogLevel  = "RTCONSOLE_LOG_LEVEL"
	EnvLogFormat = "RTCONSOLE_LOG_FORMAT" // "text" (default) or "json"
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "OFF"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names mean INFO.
func ParseLogLevel(level string) LogLevel {
	s := strings.ToUpper(strings.TrimSpace(level))
	if s == "WARNING" {
		return LogLevelWarn
	}
	for i, name := range levelNames {
		if s == name {
			return LogLevel(i)
		}
	}
	return LogLevelInfo
}

// Logger writes event records through log/slog: the event name is the
// message and fields become attributes in key order. A nil *Logger
// discards everything.
type Logger struct {
	level     LogLevel
	component string
	logger    *slog.Logger
}

// NewLogger creates a text logger on stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a text logger on w.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	return newLogger(level, slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// NewJSONLogger creates a logger writing one JSON object per record to w.
func NewJSONLogger(level LogLevel, w io.Writer) *Logger {
	return newLogger(level, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newLogger(level LogLevel, h slog.Handler) *Logger {
	return &Logger{level: level, component: "rtconsole", logger: slog.New(h)}
}

// NewLoggerFromEnv creates a stderr logger configured by RTCONSOLE_LOG_LEVEL
// and RTCONSOLE_LOG_FORMAT.
func NewLoggerFromEnv() *Logger {
	level := ParseLogLevel(os.Getenv(EnvLogLevel))
	if strings.EqualFold(os.Getenv(EnvLogFormat), "json") {
		return NewJSONLogger(level, os.Stderr)
	}
	return NewLogger(level)
}

func (l *Logger) SetLevel(level LogLevel) { l.level = level }

// SetComponent sets the component attribute of records that do not carry one.
func (l *Logger) SetComponent(component string) { l.component = component }

func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogLevelOff
	}
	return l.level
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.logger }

func (l *Logger) Debug(event string, fields map[string]any) { l.log(LogLevelDebug, event, fields) }
func (l *Logger) Info(event string, fields map[string]any)  { l.log(LogLevelInfo, event, fields) }
func (l *Logger) Warn(event string, fields map[string]any)  { l.log(LogLevelWarn, event, fields) }
func (l *Logger) Error(event string, fields map[string]any) { l.log(LogLevelError, event, fields) }

func (l *Logger) log(level LogLevel, event string, fields map[string]any) {
	if l == nil || level < l.level {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if _, ok := fields["component"]; !ok {
		attrs = append(attrs, slog.String("component", l.component))
	}
	for _, k := range sortedKeys(fields) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	l.logger.LogAttrs(context.Background(), level.slogLevel(), event, attrs...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultLogger is used by components constructed without a logger.
var DefaultLogger = NewLoggerFromEnv()

// ContextLogger adds fixed fields, such as a component or connection ID, to
// every record. Per-call fields win on key clashes.
type ContextLogger struct {
	*Logger
	fields map[string]any
}

func (l *Logger) WithContext(fields map[string]any) *ContextLogger {
	return &ContextLogger{Logger: l, fields: fields}
}

// With returns a child logger with more fixed fields.
func (cl *ContextLogger) With(fields map[string]any) *ContextLogger {
	return &ContextLogger{Logger: cl.Logger, fields: cl.merge(fields)}
}

func (cl *ContextLogger) merge(fields map[string]any) map[string]any {
	out := make(map[string]any, len(cl.fields)+len(fields))
	for k, v := range cl.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (cl *ContextLogger) Debug(event string, fields map[string]any) {
	cl.Logger.Debug(event, cl.merge(fields))
}

func (cl *ContextLogger) Info(event string, fields map[string]any) {
	cl.Logger.Info(event, cl.merge(fields))
}

func (cl *ContextLogger) Warn(event string, fields map[string]any) {
	cl.Logger.Warn(event, cl.merge(fields))
}

func (cl *ContextLogger) Error(event string, fields map[string]any) {
	cl.Logger.Error(event, cl.merge(fields))
}
