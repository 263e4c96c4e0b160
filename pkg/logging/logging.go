package logging

import "fmt"

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogFuncs binds a Logger to a concrete backend
type LogFuncs struct {
	Debugf func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger returns a Logger that prepends prefix to every message.
// Nil funcs are treated as no-ops.
func NewLogger(prefix string, funcs LogFuncs) Logger {
	noop := func(string, ...interface{}) {}
	if funcs.Debugf == nil {
		funcs.Debugf = noop
	}
	if funcs.Infof == nil {
		funcs.Infof = noop
	}
	if funcs.Warnf == nil {
		funcs.Warnf = noop
	}
	if funcs.Errorf == nil {
		funcs.Errorf = noop
	}
	return &logger{prefix: prefix, funcs: funcs}
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LevelDebug:
		l.Debugf(format, args...)
	case LevelInfo:
		l.Infof(format, args...)
	case LevelWarn:
		l.Warnf(format, args...)
	default:
		l.Errorf(format, args...)
	}
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.funcs.Debugf(l.prefix+format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.funcs.Infof(l.prefix+format, args...)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.funcs.Warnf(l.prefix+format, args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.funcs.Errorf(l.prefix+format, args...)
}

type nullLogger struct{}

func NewNullLogger() Logger {
	return nullLogger{}
}

func (nullLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (nullLogger) Debugf(format string, args ...interface{})               {}
func (nullLogger) Infof(format string, args ...interface{})                {}
func (nullLogger) Warnf(format string, args ...interface{})                {}
func (nullLogger) Errorf(format string, args ...interface{})               {}

// ModulePrefix formats the prefix used by guardian binaries
func ModulePrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}
