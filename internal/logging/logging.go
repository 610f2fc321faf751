package logging

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the interface to our internal logger.
type Logger interface {
	Debug(msg string, kvpairs ...interface{})
	Info(msg string, kvpairs ...interface{})
	Warn(msg string, kvpairs ...interface{})
	Error(msg string, kvpairs ...interface{})

	// With returns a child logger that always carries the given key/value
	// pairs in addition to the parent's.
	With(kvpairs ...interface{}) Logger
}

// LogrusLogger is a thread-safe logger whose fields persist across calls.
type LogrusLogger struct {
	mtx    sync.Mutex
	logger *logrus.Entry
	fields map[string]interface{}
}

// NoopLogger implements Logger, but does nothing.
type NoopLogger struct{}

var _ Logger = (*LogrusLogger)(nil)
var _ Logger = (*NoopLogger)(nil)

//
// LogrusLogger
//

// NewLogrusLogger will instantiate a logger with the given context, which
// shows up as the "ctx" field on every entry.
func NewLogrusLogger(ctx string, kvpairs ...interface{}) Logger {
	var logger *logrus.Entry
	if len(ctx) > 0 {
		logger = logrus.WithField("ctx", ctx)
	} else {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogrusLogger{
		logger: logger,
		fields: serializeKVPairs(kvpairs...),
	}
}

// SetLevel adjusts the global log level by name ("debug", "info", ...).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// serializeKVPairs turns alternating key/value arguments into a field map.
// Malformed input (odd length) yields an empty map rather than a panic.
func serializeKVPairs(kvpairs ...interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	if (len(kvpairs) % 2) == 0 {
		for i := 0; i < len(kvpairs); i += 2 {
			res[fmt.Sprint(kvpairs[i])] = kvpairs[i+1]
		}
	}
	return res
}

func (l *LogrusLogger) entry(kvpairs ...interface{}) *logrus.Entry {
	e := l.logger
	if len(l.fields) > 0 {
		e = e.WithFields(l.fields)
	}
	if fields := serializeKVPairs(kvpairs...); len(fields) > 0 {
		e = e.WithFields(fields)
	}
	return e
}

func (l *LogrusLogger) Debug(msg string, kvpairs ...interface{}) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.entry(kvpairs...).Debugln(msg)
}

func (l *LogrusLogger) Info(msg string, kvpairs ...interface{}) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.entry(kvpairs...).Infoln(msg)
}

func (l *LogrusLogger) Warn(msg string, kvpairs ...interface{}) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.entry(kvpairs...).Warnln(msg)
}

func (l *LogrusLogger) Error(msg string, kvpairs ...interface{}) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.entry(kvpairs...).Errorln(msg)
}

func (l *LogrusLogger) With(kvpairs ...interface{}) Logger {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range serializeKVPairs(kvpairs...) {
		fields[k] = v
	}
	return &LogrusLogger{
		logger: l.logger,
		fields: fields,
	}
}

//
// NoopLogger
//

// NewNoopLogger will instantiate a logger that does nothing when called.
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(msg string, kvpairs ...interface{}) {}
func (l *NoopLogger) Info(msg string, kvpairs ...interface{})  {}
func (l *NoopLogger) Warn(msg string, kvpairs ...interface{})  {}
func (l *NoopLogger) Error(msg string, kvpairs ...interface{}) {}
func (l *NoopLogger) With(kvpairs ...interface{}) Logger       { return l }
