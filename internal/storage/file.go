package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

const filePerm = 0o644

// FileOption configures a File backend.
type FileOption func(*File)

// WithFs overrides the filesystem the backend writes to (primarily for tests).
func WithFs(fsys afero.Fs) FileOption {
	return func(f *File) {
		f.fs = fsys
	}
}

// File persists the whole document as a single pretty-printed JSON object.
type File struct {
	path string
	fs   afero.Fs

	mu     sync.Mutex
	closed bool
}

// NewFile returns a File backend for path. The file is created lazily.
func NewFile(path string, opts ...FileOption) (*File, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	f := &File{
		path: path,
		fs:   afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Init creates the file with an empty object if it does not exist yet.
func (f *File) Init(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.ensureExists()
}

// Load reads and decodes the file. A missing file is created as {}.
func (f *File) Load(_ context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if err := f.ensureExists(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptDataError{Source: f.path, Cause: err}
	}
	if doc == nil {
		return nil, &CorruptDataError{Source: f.path, Cause: errors.New("top-level value is not an object")}
	}
	return doc, nil
}

// Save replaces the file contents with doc.
func (f *File) Save(_ context.Context, doc map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return f.write(append(data, '\n'))
}

// Close marks the backend closed; later calls fail with ErrClosed.
func (f *File) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *File) ensureExists() error {
	_, err := f.fs.Stat(f.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return f.write([]byte("{}\n"))
}

// write goes through a temporary file so readers never observe a partial document.
func (f *File) write(data []byte) error {
	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
