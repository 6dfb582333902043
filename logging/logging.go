// Package logging provides component-scoped structured logging for the task
// manager, the transport and the archive backends. Output goes through
// zerolog, either as human-readable console lines or as JSON.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override the configured log settings.
const (
	EnvLogLevel = "MEDIATORKIT_LOG_LEVEL"
	EnvLogJSON  = "MEDIATORKIT_LOG_JSON"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zerologLevels = map[Level]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name. Unknown names report false.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

// Config selects the initial logger settings.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// Logger writes leveled, structured log lines. Derived loggers share the
// parent's settings at the time they were derived.
type Logger struct {
	output    io.Writer
	minLevel  Level
	json      bool
	component string
	traceID   string
	zl        zerolog.Logger
}

// New creates a console Logger on stdout at INFO level.
func New() *Logger {
	return Configure(Config{})
}

// Configure creates a Logger from cfg, then applies environment overrides.
func Configure(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	applyEnvOverrides(&cfg)

	l := &Logger{
		output:   cfg.Output,
		minLevel: cfg.Level,
		json:     cfg.JSON,
	}
	l.rebuild()
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	l := &Logger{output: io.Discard, minLevel: LevelError, json: true}
	l.zl = zerolog.Nop()
	return l
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogJSON))); err == nil {
		cfg.JSON = v
	}
}

func (l *Logger) rebuild() {
	var w io.Writer = zerolog.SyncWriter(l.output)
	if !l.json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}
	ctx := zerolog.New(w).Level(zerologLevels[l.minLevel]).With().Timestamp()
	if l.component != "" {
		ctx = ctx.Str("component", l.component)
	}
	if l.traceID != "" {
		ctx = ctx.Str("trace_id", l.traceID)
	}
	l.zl = ctx.Logger()
}

func (l *Logger) derive(component, traceID string) *Logger {
	child := &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		json:      l.json,
		component: component,
		traceID:   traceID,
	}
	if l.output == io.Discard {
		child.zl = zerolog.Nop()
		return child
	}
	child.rebuild()
	return child
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if _, ok := zerologLevels[level]; !ok {
		return
	}
	l.minLevel = level
	l.rebuild()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// Zerolog exposes the underlying logger for libraries that take one.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Debug(), msg, fields)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Info(), msg, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Warn(), msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(l.zl.Error(), msg, fields)
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	if ev == nil {
		return
	}
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}

// --- Task manager event helpers ---

// TaskStart logs the start of a task attempt.
func (l *Logger) TaskStart(taskType string, attempt int) {
	l.Debug("task_start", map[string]interface{}{
		"task":    taskType,
		"attempt": attempt,
	})
}

// TaskComplete logs the successful completion of a task.
func (l *Logger) TaskComplete(taskType string, duration time.Duration) {
	l.Debug("task_complete", map[string]interface{}{
		"task":     taskType,
		"duration": duration.String(),
	})
}

// TaskFailed logs a failed task attempt. final marks the attempt after which
// the task is completed exceptionally.
func (l *Logger) TaskFailed(taskType string, attempt int, err error, final bool) {
	fields := map[string]interface{}{
		"task":    taskType,
		"attempt": attempt,
		"final":   final,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("task_failed", fields)
}

// Bypass logs an inbound message handled out of band.
func (l *Logger) Bypass(messageType string) {
	l.Debug("inbound_bypass", map[string]interface{}{
		"message": messageType,
	})
}

// Backlog logs an inbound message deferred for a later read.
func (l *Logger) Backlog(messageType string, backlogSize int) {
	l.Debug("inbound_backlog", map[string]interface{}{
		"message": messageType,
		"backlog": backlogSize,
	})
}

// Reconnect logs a scheduled connection restart.
func (l *Logger) Reconnect(delay time.Duration, cause error) {
	fields := map[string]interface{}{
		"delay": delay.String(),
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	l.Warn("connection_restart", fields)
}

// RunnerState logs a task runner state transition.
func (l *Logger) RunnerState(from, to string) {
	l.Info("runner_state", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}
