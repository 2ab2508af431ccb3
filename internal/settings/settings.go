package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eugenenazirov/appkit/internal/storage"
)

// DecodeError occurs when the live document can no longer be decoded into
// the resolver's record type, e.g. after a key was retyped at runtime.
type DecodeError struct {
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("settings: decode document: %v", e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

var (
	// ErrKeyExists is wrapped by Insert when a key is already set.
	ErrKeyExists = errors.New("settings: key already exists")
	// ErrUnknownKey is wrapped by Update when a key is not set.
	ErrUnknownKey = errors.New("settings: unknown key")
)

// KeyError lists the keys that failed an Insert or Update precondition.
type KeyError struct {
	Keys []string
	Err  error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Keys, ", "))
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// Option configures a Resolver.
type Option func(*options)

type options struct {
	name       string
	prefix     string
	allowExtra bool
	backend    storage.Backend
	environ    func() []string
	logger     *zap.Logger
}

// WithName sets the resolver name used in logs and errors.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithPrefix sets the environment variable prefix. Variables are looked up as
// PREFIX_KEY.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithAllowExtra lets every PREFIX_* variable introduce a key, not only those
// already present in the defaults. It has no effect without a prefix.
func WithAllowExtra(allow bool) Option {
	return func(o *options) {
		o.allowExtra = allow
	}
}

// WithBackend sets the storage backend. The default is an in-memory backend.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithEnviron overrides the environment source (primarily for tests).
func WithEnviron(environ func() []string) Option {
	return func(o *options) {
		if environ != nil {
			o.environ = environ
		}
	}
}

// WithLogger sets the logger used to report settings operations.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Resolver merges defaults, environment variables and storage into a single
// document and exposes it as T.
//
// Writers are serialized: an update and its persistence happen under the same
// lock, so storage observes writes in the order they were applied in memory.
type Resolver[T any] struct {
	name       string
	prefix     string
	allowExtra bool
	backend    storage.Backend
	environ    func() []string
	logger     *zap.Logger

	mu  sync.RWMutex
	doc map[string]any
}

// New returns a Resolver seeded with defaults. It performs no I/O; call
// Initialize before relying on environment or storage values.
func New[T any](defaults T, opts ...Option) (*Resolver[T], error) {
	o := options{
		name:    "settings",
		backend: storage.NewMemory(),
		environ: os.Environ,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := toDocument(defaults)
	if err != nil {
		return nil, err
	}

	return &Resolver[T]{
		name:       o.name,
		prefix:     o.prefix,
		allowExtra: o.allowExtra,
		backend:    o.backend,
		environ:    o.environ,
		logger:     o.logger.With(zap.String("settings", o.name)),
		doc:        doc,
	}, nil
}

// Name returns the resolver name.
func (r *Resolver[T]) Name() string {
	return r.name
}

// Prefix returns the environment variable prefix.
func (r *Resolver[T]) Prefix() string {
	return r.prefix
}

// Initialize prepares the backend, if it needs it, and runs Refresh.
func (r *Resolver[T]) Initialize(ctx context.Context) error {
	if init, ok := r.backend.(storage.Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("initialize %s backend: %w", r.name, err)
		}
	}
	return r.Refresh(ctx)
}

// Refresh overlays environment variables on the live document and then merges
// the stored document on top. On error the live document is left unchanged.
func (r *Resolver[T]) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := storage.Clone(r.doc)
	applied := overlayEnv(next, r.environ(), r.prefix, r.allowExtra)

	stored, err := r.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s: %w", r.name, err)
	}
	maps.Copy(next, stored)
	r.doc = next

	r.logger.Debug("settings refreshed",
		zap.Strings("env_keys", applied),
		zap.Int("stored_keys", len(stored)),
	)
	return nil
}

// Get decodes the live document into T. It performs no I/O.
func (r *Resolver[T]) Get() (T, error) {
	r.mu.RLock()
	doc := storage.Clone(r.doc)
	r.mu.RUnlock()

	return fromDocument[T](doc)
}

// Values returns a copy of the live document, including keys T does not declare.
func (r *Resolver[T]) Values() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return storage.Clone(r.doc)
}

// Value returns a single key of the live document.
func (r *Resolver[T]) Value(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.doc[key]
	return storage.CloneValue(v), ok
}

// Has reports whether key is present in the live document.
func (r *Resolver[T]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.doc[key]
	return ok
}

// Set shallow-merges partial into the live document and persists the whole
// document. A persistence failure is returned but the in-memory update is kept.
func (r *Resolver[T]) Set(ctx context.Context, partial map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.setLocked(ctx, partial)
}

// Insert is Set restricted to keys absent from the live document. When any
// key exists it returns a *KeyError wrapping ErrKeyExists and changes nothing.
func (r *Resolver[T]) Insert(ctx context.Context, partial map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if keys := r.keysLocked(partial, true); len(keys) > 0 {
		return &KeyError{Keys: keys, Err: ErrKeyExists}
	}
	return r.setLocked(ctx, partial)
}

// Update is Set restricted to keys present in the live document. When any
// key is unknown it returns a *KeyError wrapping ErrUnknownKey and changes
// nothing.
func (r *Resolver[T]) Update(ctx context.Context, partial map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if keys := r.keysLocked(partial, false); len(keys) > 0 {
		return &KeyError{Keys: keys, Err: ErrUnknownKey}
	}
	return r.setLocked(ctx, partial)
}

// keysLocked returns the sorted keys of partial whose presence in the live
// document equals present.
func (r *Resolver[T]) keysLocked(partial map[string]any, present bool) []string {
	var keys []string
	for k := range partial {
		if _, ok := r.doc[k]; ok == present {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (r *Resolver[T]) setLocked(ctx context.Context, partial map[string]any) error {
	for k, v := range partial {
		r.doc[k] = storage.CloneValue(v)
	}
	if err := r.backend.Save(ctx, r.doc); err != nil {
		r.logger.Warn("settings persisted state diverged", zap.Error(err))
		return fmt.Errorf("save %s: %w", r.name, err)
	}

	r.logger.Debug("settings updated", zap.Int("keys", len(partial)))
	return nil
}

// SetValue assigns a single key. Backends with per-key access store only that
// key; others receive the whole document.
func (r *Resolver[T]) SetValue(ctx context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc[key] = storage.CloneValue(value)

	var err error
	if ks, ok := r.backend.(storage.KeyStore); ok {
		err = ks.Set(ctx, key, value)
	} else {
		err = r.backend.Save(ctx, r.doc)
	}
	if err != nil {
		r.logger.Warn("settings persisted state diverged", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("save %s key %s: %w", r.name, key, err)
	}

	r.logger.Debug("setting updated", zap.String("key", key))
	return nil
}

// DeleteValue removes a key from the live document and from storage.
func (r *Resolver[T]) DeleteValue(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.doc, key)

	var err error
	if ks, ok := r.backend.(storage.KeyStore); ok {
		err = ks.Delete(ctx, key)
	} else {
		err = r.backend.Save(ctx, r.doc)
	}
	if err != nil {
		return fmt.Errorf("delete %s key %s: %w", r.name, key, err)
	}
	return nil
}

// StoredValue reads a single key directly from storage, bypassing the live
// document. It returns storage.ErrUnsupported for whole-object backends.
func (r *Resolver[T]) StoredValue(ctx context.Context, key string) (any, bool, error) {
	ks, ok := r.backend.(storage.KeyStore)
	if !ok {
		return nil, false, storage.ErrUnsupported
	}
	return ks.Get(ctx, key)
}

// HasStoredValue reports whether storage holds key. It returns
// storage.ErrUnsupported for whole-object backends.
func (r *Resolver[T]) HasStoredValue(ctx context.Context, key string) (bool, error) {
	ks, ok := r.backend.(storage.KeyStore)
	if !ok {
		return false, storage.ErrUnsupported
	}
	return ks.Exists(ctx, key)
}

// Close closes the backend when it holds resources.
func (r *Resolver[T]) Close() error {
	c, ok := r.backend.(io.Closer)
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
		return err
	}
	return nil
}
