// Package logger is the core's internal structured-logging facility:
// component/level gated, backed directly by github.com/go-logr/logr so it
// composes with any of the logr-compatible backends (zap, zerolog, ...)
// the rest of the ecosystem already provides adapters for.
package logger

import "github.com/go-logr/logr"

// Logger gates structured log calls by Component and Level before handing
// them to an underlying logr.Logger.
type Logger struct {
	sink            logr.Logger
	componentLevels map[Component]Level
}

// New constructs a Logger. A zero-value sink (logr.Logger{}) discards
// everything, matching logr's own convention for "no sink configured".
func New(sink logr.Logger, componentLevels map[Component]Level) *Logger {
	if componentLevels == nil {
		componentLevels = make(map[Component]Level)
	}
	return &Logger{sink: sink, componentLevels: componentLevels}
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(component Component, level Level) bool {
	if l == nil {
		return false
	}
	return l.componentLevels[component] >= level
}

// Info logs msg at LevelInfo for component, with structured key/value
// pairs, if that level is enabled.
func (l *Logger) Info(component Component, msg string, keysAndValues ...interface{}) {
	l.log(component, LevelInfo, msg, keysAndValues...)
}

// Debug logs msg at LevelDebug for component, with structured key/value
// pairs, if that level is enabled.
func (l *Logger) Debug(component Component, msg string, keysAndValues ...interface{}) {
	l.log(component, LevelDebug, msg, keysAndValues...)
}

// Error logs an error unconditionally of component level, mirroring
// logr's convention that Error calls always surface.
func (l *Logger) Error(component Component, err error, msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.sink.WithValues("component", string(component)).Error(err, msg, keysAndValues...)
}

func (l *Logger) log(component Component, level Level, msg string, keysAndValues ...interface{}) {
	if l == nil || !l.Is(component, level) {
		return
	}
	l.sink.WithValues("component", string(component)).V(int(level) - DiffToInfo).Info(msg, keysAndValues...)
}
