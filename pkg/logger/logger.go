// Package logger provides leveled, component-tagged logging for wabridge.
//
// Call sites pass a short component name ("session", "router", "dispatch")
// so log lines can be filtered per subsystem. The F-suffixed variants attach
// structured fields.
package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Level mirrors slog levels with package-local names.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelVar = func() *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(slog.LevelInfo)
	return lv
}()

var log atomic.Pointer[slog.Logger]

func init() {
	log.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
}

// SetLevel adjusts the minimum level emitted.
func SetLevel(l Level) {
	switch l {
	case DEBUG:
		levelVar.Set(slog.LevelDebug)
	case INFO:
		levelVar.Set(slog.LevelInfo)
	case WARN:
		levelVar.Set(slog.LevelWarn)
	case ERROR:
		levelVar.Set(slog.LevelError)
	}
}

// SetOutput replaces the backing handler. Tests use this to capture output.
func SetOutput(l *slog.Logger) {
	log.Store(l)
}

func attrs(component string, fields map[string]any) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) {
	log.Load().Debug(msg, "component", component)
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]any) {
	log.Load().Debug(msg, attrs(component, fields)...)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) {
	log.Load().Info(msg, "component", component)
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]any) {
	log.Load().Info(msg, attrs(component, fields)...)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) {
	log.Load().Warn(msg, "component", component)
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]any) {
	log.Load().Warn(msg, attrs(component, fields)...)
}

// ErrorC logs an error for a component.
func ErrorC(component, msg string) {
	log.Load().Error(msg, "component", component)
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]any) {
	log.Load().Error(msg, attrs(component, fields)...)
}
