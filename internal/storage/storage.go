package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by backends that have been closed.
	ErrClosed = errors.New("storage: backend is closed")
	// ErrUnsupported indicates the backend has no per-key access.
	ErrUnsupported = errors.New("storage: operation not supported by backend")
	// ErrMissingPath is returned when a file backend is created without a path.
	ErrMissingPath = errors.New("storage: file path is required")
)

// CorruptDataError reports persisted data that could not be decoded.
type CorruptDataError struct {
	Source string
	Cause  error
}

// Error implements the error interface.
func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("storage: corrupt data in %s: %v", e.Source, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e *CorruptDataError) Unwrap() error {
	return e.Cause
}

// Backend persists a whole settings document.
//
// Load returns an empty, non-nil map when nothing has been stored yet.
// Save always replaces the stored document.
type Backend interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, doc map[string]any) error
}

// KeyStore is implemented by backends that can read and write single keys
// without touching the rest of the document.
type KeyStore interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Initializer is implemented by backends that need connection setup.
// Init must be safe to call more than once.
type Initializer interface {
	Init(ctx context.Context) error
}

// Memory keeps the document in-memory and guards access with a RWMutex.
type Memory struct {
	mu     sync.RWMutex
	doc    map[string]any
	closed bool
}

// NewMemory initialises an empty in-memory backend, optionally seeded with
// a copy of seed.
func NewMemory(seed ...map[string]any) *Memory {
	doc := make(map[string]any)
	for _, s := range seed {
		for k, v := range s {
			doc[k] = cloneValue(v)
		}
	}
	return &Memory{doc: doc}
}

// Load returns a deep copy of the stored document.
func (m *Memory) Load(_ context.Context) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return cloneDocument(m.doc), nil
}

// Save replaces the stored document with a copy of doc.
func (m *Memory) Save(_ context.Context, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.doc = cloneDocument(doc)
	return nil
}

// Get returns a copy of a single stored value.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.doc[key]
	return cloneValue(v), ok, nil
}

// Set stores a single value.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.doc[key] = cloneValue(value)
	return nil
}

// Delete removes a single value. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.doc, key)
	return nil
}

// Exists reports whether key is stored.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.doc[key]
	return ok, nil
}

// Close releases the stored document.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.doc = nil
	m.mu.Unlock()
	return nil
}

// Clone returns a deep copy of a JSON-compatible document.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	return cloneDocument(doc)
}

// CloneValue returns a deep copy of a JSON-compatible value.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneDocument(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneDocument(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}
