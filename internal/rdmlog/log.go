// Package rdmlog provides the structured logger threaded through every
// controller, discovery, widget, hotplug, and registry constructor. It
// wraps zap's sugared logger so call sites can pass loosely-typed
// key/value pairs without fighting the strongly-typed zap.Field API.
package rdmlog

import (
	"go.uber.org/zap"
)

// Logger is a thin wrapper around *zap.SugaredLogger, giving callers a nil
// receiver they can safely invoke without checking for nil first.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps an existing *zap.Logger.
func New(base *zap.Logger) *Logger {
	if base == nil {
		return nil
	}
	return &Logger{sugar: base.Sugar()}
}

// NewDevelopment returns a Logger configured for human-readable console
// output, suitable for cmd/rdmctl and cmd/rdmmon.
func NewDevelopment() (*Logger, error) {
	base, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return New(base), nil
}

// NewProduction returns a Logger configured for JSON output.
func NewProduction() (*Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(base), nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(zap.NewNop())
}

// OrNop returns l if non-nil, otherwise a no-op logger. Lets constructors
// accept a possibly-nil *Logger argument without every call site needing a
// nil check.
func (l *Logger) OrNop() *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l == nil {
		return
	}
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries. Call it before process exit.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.sugar.Sync()
}
