// Package logging is the logger every deploy component takes. Components
// depend on the small Logger interface; the CLI backs it with zap (see
// NewZapLogger and FromZap) and tests back it with zaptest or a nop logger.
package logging

// Log levels, lowest first
const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// Logger is a printf-style leveled logger. Messages read as a short phrase
// followed by comma separated "key: value" details, e.g.
// "Step finished: quiesce, outcome: ok".
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

// LogFuncs are the sinks a Logger writes to. When LogLevelf is set it
// receives every message; otherwise each level goes to its own func and
// levels without one are dropped.
type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

func (f LogFuncs) forLevel(level int) LogFunc {
	switch level {
	case LogLevelDebug:
		return f.Debugf
	case LogLevelInfo:
		return f.Infof
	case LogLevelWarn:
		return f.Warnf
	case LogLevelError:
		return f.Errorf
	}
	return nil
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger wraps a set of printf-style sinks, prepending prefix to every message
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// WithPrefix returns a logger that prepends prefix and forwards to parent
func WithPrefix(parent Logger, prefix string) Logger {
	return NewLogger(prefix, LogFuncs{LogLevelf: parent.LogLevelf})
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return NewLogger("", LogFuncs{})
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	format = l.prefix + format
	if l.funcs.LogLevelf != nil {
		l.funcs.LogLevelf(level, format, args...)
		return
	}
	if sink := l.funcs.forLevel(level); sink != nil {
		sink(format, args...)
	}
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelDebug, msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelInfo, msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelWarn, msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelError, msg, args...)
}
