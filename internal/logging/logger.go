package logging

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/eugenenazirov/appkit/internal/registry"
)

// callerDepth is the number of frames between runtime.Caller and the code
// that called a Logger method.
const callerDepth = 3

// Option configures a Logger.
type Option func(*loggerOptions)

type loggerOptions struct {
	level        Level
	typ          Type
	errorVerbose bool
	enabled      bool
	register     bool
	callerSkip   int
}

// WithLevel sets the logger's own level. Unknown levels are ignored.
func WithLevel(l Level) Option {
	return func(o *loggerOptions) {
		if l.Valid() {
			o.level = l
		}
	}
}

// WithType sets the category tag. Unknown types are ignored.
func WithType(t Type) Option {
	return func(o *loggerOptions) {
		if parsed, err := ParseType(string(t)); err == nil {
			o.typ = parsed
		}
	}
}

// WithErrorVerbose controls whether error values reach the sinks.
func WithErrorVerbose(v bool) Option {
	return func(o *loggerOptions) {
		o.errorVerbose = v
	}
}

// WithEnabled enables or silences the logger.
func WithEnabled(v bool) Option {
	return func(o *loggerOptions) {
		o.enabled = v
	}
}

// WithRegistration registers the logger in the hub's registry.
func WithRegistration(v bool) Option {
	return func(o *loggerOptions) {
		o.register = v
	}
}

// WithCallerSkip adds frames to skip when resolving the trace location, for
// callers that wrap the logger in helpers of their own.
func WithCallerSkip(n int) Option {
	return func(o *loggerOptions) {
		if n > 0 {
			o.callerSkip = n
		}
	}
}

// Logger emits leveled messages through its hub's sinks.
type Logger struct {
	hub        *Hub
	name       string
	callerSkip int

	mu           sync.RWMutex
	level        Level
	typ          Type
	errorVerbose bool
	enabled      bool
	unsubscribe  func()
}

// Name returns the logger's identity.
func (l *Logger) Name() string {
	return l.name
}

// Level returns the logger's own level, ignoring any hub override.
func (l *Logger) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// EffectiveLevel returns the hub override if set, else the logger's level.
func (l *Logger) EffectiveLevel() Level {
	if o, ok := l.hub.Override(); ok {
		return o
	}
	return l.Level()
}

// Enabled reports whether a message at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()
	return enabled && l.EffectiveLevel().Allows(level)
}

// SetLevel changes the logger's own level.
func (l *Logger) SetLevel(level Level) error {
	if !level.Valid() {
		return fmt.Errorf("unknown log level %q", level)
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
	return nil
}

// SetEnabled enables or silences the logger.
func (l *Logger) SetEnabled(v bool) {
	l.mu.Lock()
	l.enabled = v
	l.mu.Unlock()
}

// SetErrorVerbose controls whether error values reach the sinks.
func (l *Logger) SetErrorVerbose(v bool) {
	l.mu.Lock()
	l.errorVerbose = v
	l.mu.Unlock()
}

// Entry returns the logger's configuration in registry form.
func (l *Logger) Entry() registry.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return registry.Entry{
		Name:         l.name,
		Level:        string(l.level),
		Type:         string(l.typ),
		ErrorVerbose: l.errorVerbose,
		Enabled:      l.enabled,
	}
}

// MarshalJSON implements json.Marshaler.
func (l *Logger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entry())
}

// ToJSON returns {name, level, type, errorVerbose, enabled}.
func (l *Logger) ToJSON() ([]byte, error) {
	return l.MarshalJSON()
}

// Destroy releases the registry subscription. The registry entry itself is kept.
func (l *Logger) Destroy() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Fatal logs at fatal level. It does not exit.
func (l *Logger) Fatal(msg string, err error, data ...any) {
	l.log(LevelFatal, msg, err, data)
}

// Error logs at error level.
func (l *Logger) Error(msg string, err error, data ...any) {
	l.log(LevelError, msg, err, data)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, data ...any) {
	l.log(LevelWarn, msg, nil, data)
}

// Success logs at success level.
func (l *Logger) Success(msg string, data ...any) {
	l.log(LevelSuccess, msg, nil, data)
}

// Info logs at info level.
func (l *Logger) Info(msg string, data ...any) {
	l.log(LevelInfo, msg, nil, data)
}

// Start logs at start level.
func (l *Logger) Start(msg string, data ...any) {
	l.log(LevelStart, msg, nil, data)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, data ...any) {
	l.log(LevelDebug, msg, nil, data)
}

// Trace logs at trace level with the caller's file and line.
func (l *Logger) Trace(msg string, data ...any) {
	l.log(LevelTrace, msg, nil, data)
}

// Log logs at an arbitrary level.
func (l *Logger) Log(level Level, msg string, err error, data ...any) {
	l.log(level, msg, err, data)
}

func (l *Logger) log(level Level, msg string, err error, data []any) {
	l.mu.RLock()
	own, typ, verbose, enabled := l.level, l.typ, l.errorVerbose, l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}
	effective := own
	if o, ok := l.hub.Override(); ok {
		effective = o
	}
	if !effective.Allows(level) {
		return
	}

	rec := Record{
		Time:    l.hub.clock(),
		Level:   level,
		Name:    l.name,
		Type:    typ,
		Message: msg,
		Data:    data,
	}
	if verbose && err != nil {
		rec.Err = err
	}
	if level == LevelTrace {
		rec.Caller = callerLocation(callerDepth + l.callerSkip)
	}

	if sink := l.hub.sinkFor(level); sink != nil {
		sink.Write(rec)
	}
}

func (l *Logger) apply(e registry.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level, err := ParseLevel(e.Level); err == nil {
		l.level = level
	}
	if typ, err := ParseType(e.Type); err == nil {
		l.typ = typ
	}
	l.errorVerbose = e.ErrorVerbose
	l.enabled = e.Enabled
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
