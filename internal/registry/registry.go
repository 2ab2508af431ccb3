// Package registry keeps a name-keyed collection of logger configurations.
//
// Names are unique. Register inserts only when the name is free, Update
// replaces only existing entries. Subscribers are notified synchronously after
// an entry changes so live loggers can follow updates made through the API.
// With a backend attached, every API-driven change saves the whole registry
// and Load restores it at start-up.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/eugenenazirov/appkit/internal/storage"
)

var (
	// ErrNotFound is returned when an operation references an unknown name.
	ErrNotFound = errors.New("registry: entry not found")
	// ErrExists is returned by Create when the name is already registered.
	ErrExists = errors.New("registry: entry already exists")
	// ErrInvalidName is returned for entries without a name.
	ErrInvalidName = errors.New("registry: name is required")
)

// Entry is the registered configuration of a single logger.
type Entry struct {
	Name         string `json:"name"`
	Level        string `json:"level"`
	Type         string `json:"type"`
	ErrorVerbose bool   `json:"errorVerbose"`
	Enabled      bool   `json:"enabled"`
}

// Patch holds a partial update. Nil fields are left unchanged.
type Patch struct {
	Level        *string `json:"level,omitempty"`
	Type         *string `json:"type,omitempty"`
	ErrorVerbose *bool   `json:"errorVerbose,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
}

// Apply returns e with the non-nil fields of p applied.
func (p Patch) Apply(e Entry) Entry {
	if p.Level != nil {
		e.Level = *p.Level
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.ErrorVerbose != nil {
		e.ErrorVerbose = *p.ErrorVerbose
	}
	if p.Enabled != nil {
		e.Enabled = *p.Enabled
	}
	return e
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend persists the registry through b.
func WithBackend(b storage.Backend) Option {
	return func(r *Registry) {
		r.backend = b
	}
}

// Registry is a concurrency-safe name-keyed collection of entries.
type Registry struct {
	backend storage.Backend

	mu      sync.RWMutex
	entries map[string]Entry
	subs    map[string]map[uint64]func(Entry)
	nextID  uint64

	// persistMu orders saves so the backend never goes back in time.
	persistMu sync.Mutex
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		subs:    make(map[string]map[uint64]func(Entry)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts e if its name is free and reports whether it did.
// An existing entry is left untouched.
func (r *Registry) Register(e Entry) bool {
	if e.Name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.Name]; ok {
		return false
	}
	r.entries[e.Name] = e
	return true
}

// Create inserts e and persists the registry. It fails with ErrExists when the
// name is taken.
func (r *Registry) Create(ctx context.Context, e Entry) error {
	if e.Name == "" {
		return ErrInvalidName
	}
	if !r.Register(e) {
		return fmt.Errorf("%w: %s", ErrExists, e.Name)
	}
	return r.persist(ctx)
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e, ok
}

// Update replaces an existing entry. It fails with ErrNotFound and leaves the
// registry unchanged when the name is unknown.
func (r *Registry) Update(ctx context.Context, e Entry) error {
	r.mu.Lock()
	if _, ok := r.entries[e.Name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, e.Name)
	}
	r.entries[e.Name] = e
	subs := r.subscribersLocked(e.Name)
	r.mu.Unlock()

	notify(subs, e)
	return r.persist(ctx)
}

// Patch applies p to an existing entry and returns the result.
func (r *Registry) Patch(ctx context.Context, name string, p Patch) (Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e = p.Apply(e)
	r.entries[name] = e
	subs := r.subscribersLocked(name)
	r.mu.Unlock()

	notify(subs, e)
	return e, r.persist(ctx)
}

// List returns a snapshot of all entries keyed by name.
func (r *Registry) List() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.entries)
}

// Subscribe calls fn after every change to the entry registered under name.
// The returned function cancels the subscription.
func (r *Registry) Subscribe(name string, fn func(Entry)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.subs[name] == nil {
		r.subs[name] = make(map[uint64]func(Entry))
	}
	r.subs[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			delete(r.subs[name], id)
			if len(r.subs[name]) == 0 {
				delete(r.subs, name)
			}
		})
	}
}

// Load restores persisted entries. Entries already registered in memory are
// replaced by their persisted version.
func (r *Registry) Load(ctx context.Context) error {
	if r.backend == nil {
		return nil
	}
	if init, ok := r.backend.(storage.Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("initialize registry backend: %w", err)
		}
	}

	doc, err := r.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	loaded := make(map[string]Entry, len(doc))
	for name, raw := range doc {
		e, err := decodeEntry(name, raw)
		if err != nil {
			return &storage.CorruptDataError{Source: "registry entry " + name, Cause: err}
		}
		loaded[name] = e
	}

	type change struct {
		entry Entry
		subs  []func(Entry)
	}
	var changes []change

	r.mu.Lock()
	for name, e := range loaded {
		r.entries[name] = e
		if subs := r.subscribersLocked(name); len(subs) > 0 {
			changes = append(changes, change{entry: e, subs: subs})
		}
	}
	r.mu.Unlock()

	for _, c := range changes {
		notify(c.subs, c.entry)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	if r.backend == nil {
		return nil
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.RLock()
	doc := make(map[string]any, len(r.entries))
	for name, e := range r.entries {
		doc[name] = encodeEntry(e)
	}
	r.mu.RUnlock()

	if err := r.backend.Save(ctx, doc); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	return nil
}

func (r *Registry) subscribersLocked(name string) []func(Entry) {
	subs := make([]func(Entry), 0, len(r.subs[name]))
	for _, fn := range r.subs[name] {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Entry), e Entry) {
	for _, fn := range subs {
		fn(e)
	}
}

func encodeEntry(e Entry) map[string]any {
	return map[string]any{
		"name":         e.Name,
		"level":        e.Level,
		"type":         e.Type,
		"errorVerbose": e.ErrorVerbose,
		"enabled":      e.Enabled,
	}
}

func decodeEntry(name string, raw any) (Entry, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Entry{}, fmt.Errorf("expected object, got %T", raw)
	}

	e := Entry{Name: name}
	var err error
	if e.Level, err = field[string](m, "level"); err != nil {
		return Entry{}, err
	}
	if e.Type, err = field[string](m, "type"); err != nil {
		return Entry{}, err
	}
	if e.ErrorVerbose, err = field[bool](m, "errorVerbose"); err != nil {
		return Entry{}, err
	}
	if e.Enabled, err = field[bool](m, "enabled"); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func field[V any](m map[string]any, key string) (V, error) {
	var zero V
	raw, ok := m[key]
	if !ok {
		return zero, fmt.Errorf("missing field %q", key)
	}
	v, ok := raw.(V)
	if !ok {
		return zero, fmt.Errorf("field %q: expected %T, got %T", key, zero, raw)
	}
	return v, nil
}
