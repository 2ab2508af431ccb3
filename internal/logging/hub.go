package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eugenenazirov/appkit/internal/registry"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSinks sets the error sink (fatal, error), the warn sink and the general
// sink used for every other level.
func WithSinks(errSink, warnSink, logSink Sink) HubOption {
	return func(h *Hub) {
		h.errSink = errSink
		h.warnSink = warnSink
		h.logSink = logSink
	}
}

// WithSink routes every level to s.
func WithSink(s Sink) HubOption {
	return WithSinks(s, s, s)
}

// WithRegistry lets loggers created by the hub register themselves.
func WithRegistry(r *registry.Registry) HubOption {
	return func(h *Hub) {
		h.registry = r
	}
}

// WithOverride starts the hub with an override level. Unknown levels are ignored.
func WithOverride(l Level) HubOption {
	return func(h *Hub) {
		if l.Valid() {
			h.override = l
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HubOption {
	return func(h *Hub) {
		h.clock = clock
	}
}

// Hub is the context shared by a family of loggers: the sinks they write to,
// an optional override level and an optional registry. Each application (or
// test) owns its own Hub.
type Hub struct {
	errSink  Sink
	warnSink Sink
	logSink  Sink
	registry *registry.Registry
	clock    func() time.Time

	mu       sync.RWMutex
	override Level
}

// NewHub returns a hub writing to the console: errors and warnings to stderr,
// everything else to stdout.
func NewHub(opts ...HubOption) *Hub {
	stderr := NewConsoleSink(os.Stderr)
	h := &Hub{
		errSink:  stderr,
		warnSink: stderr,
		logSink:  NewConsoleSink(os.Stdout),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry loggers register into, or nil.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// SetOverride makes l the effective level of every logger of the hub,
// replacing their own levels.
func (h *Hub) SetOverride(l Level) error {
	if !l.Valid() {
		return fmt.Errorf("unknown log level %q", l)
	}
	h.mu.Lock()
	h.override = l
	h.mu.Unlock()
	return nil
}

// ClearOverride restores per-logger levels.
func (h *Hub) ClearOverride() {
	h.mu.Lock()
	h.override = ""
	h.mu.Unlock()
}

// Override returns the override level, if one is set.
func (h *Hub) Override() (Level, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.override, h.override != ""
}

// New creates a logger. When registration is requested and the hub has a
// registry, a name that is already registered keeps its registered
// configuration and the new logger adopts it.
func (h *Hub) New(name string, opts ...Option) *Logger {
	o := loggerOptions{
		level:   LevelInfo,
		typ:     TypeDefault,
		enabled: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Logger{
		hub:          h,
		name:         name,
		callerSkip:   o.callerSkip,
		level:        o.level,
		typ:          o.typ,
		errorVerbose: o.errorVerbose,
		enabled:      o.enabled,
	}

	if o.register && h.registry != nil {
		if !h.registry.Register(l.Entry()) {
			if existing, ok := h.registry.Get(name); ok {
				l.apply(existing)
			}
		}
		l.unsubscribe = h.registry.Subscribe(name, l.apply)
	}
	return l
}

// FromJSON creates a logger from the output of Logger.ToJSON using the normal
// constructor, so registration options behave as for New.
func (h *Hub) FromJSON(data []byte, opts ...Option) (*Logger, error) {
	var e registry.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode logger: %w", err)
	}
	if e.Name == "" {
		return nil, fmt.Errorf("decode logger: name is required")
	}
	level, err := ParseLevel(e.Level)
	if err != nil {
		return nil, fmt.Errorf("decode logger: %w", err)
	}
	typ, err := ParseType(e.Type)
	if err != nil {
		return nil, fmt.Errorf("decode logger: %w", err)
	}

	base := []Option{
		WithLevel(level),
		WithType(typ),
		WithErrorVerbose(e.ErrorVerbose),
		WithEnabled(e.Enabled),
	}
	return h.New(e.Name, append(base, opts...)...), nil
}

func (h *Hub) sinkFor(l Level) Sink {
	switch l {
	case LevelFatal, LevelError:
		return h.errSink
	case LevelWarn:
		return h.warnSink
	default:
		return h.logSink
	}
}
