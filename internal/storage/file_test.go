package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newMemFile(t *testing.T) (*File, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	f, err := NewFile("/etc/app/settings.json", WithFs(fsys))
	if err != nil {
		t.Fatalf("NewFile returned error: %v", err)
	}
	return f, fsys
}

func TestNewFileRequiresPath(t *testing.T) {
	if _, err := NewFile(""); !errors.Is(err, ErrMissingPath) {
		t.Fatalf("expected ErrMissingPath, got %v", err)
	}
}

func TestFileInitCreatesEmptyObject(t *testing.T) {
	f, fsys := newMemFile(t)

	for range 2 {
		if err := f.Init(context.Background()); err != nil {
			t.Fatalf("Init returned error: %v", err)
		}
	}

	data, err := afero.ReadFile(fsys, f.Path())
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "{}" {
		t.Fatalf("expected empty object, got %q", data)
	}
}

func TestFileLoadMissingFileReturnsEmpty(t *testing.T) {
	f, fsys := newMemFile(t)

	doc, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc == nil || len(doc) != 0 {
		t.Fatalf("expected empty non-nil document, got %v", doc)
	}

	exists, err := afero.Exists(fsys, f.Path())
	if err != nil || !exists {
		t.Fatalf("expected file to be created (err=%v)", err)
	}
}

func TestFileSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	f, fsys := newMemFile(t)

	doc := map[string]any{
		"connection_count": 3.0,
		"name":             "api",
		"features":         map[string]any{"beta": true},
	}
	if err := f.Save(ctx, doc); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := f.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Fatalf("expected %v, got %v", doc, got)
	}

	data, err := afero.ReadFile(fsys, f.Path())
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"connection_count\": 3") {
		t.Fatalf("expected pretty-printed file, got %s", data)
	}

	if tmpExists, _ := afero.Exists(fsys, f.Path()+".tmp"); tmpExists {
		t.Fatalf("temporary file left behind")
	}
}

func TestFileSaveReplacesDocument(t *testing.T) {
	ctx := context.Background()
	f, _ := newMemFile(t)

	if err := f.Save(ctx, map[string]any{"a": 1.0, "b": 2.0}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := f.Save(ctx, map[string]any{"b": 3.0}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got, err := f.Load(ctx)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"b": 3.0}) {
		t.Fatalf("expected {b:3}, got %v", got)
	}
}

func TestFileLoadCorruptData(t *testing.T) {
	for name, content := range map[string]string{
		"malformed": `{"a":`,
		"array":     `[1,2]`,
		"null":      `null`,
	} {
		t.Run(name, func(t *testing.T) {
			f, fsys := newMemFile(t)
			if err := afero.WriteFile(fsys, f.Path(), []byte(content), 0o644); err != nil {
				t.Fatalf("failed to seed file: %v", err)
			}

			_, err := f.Load(context.Background())
			var corrupt *CorruptDataError
			if !errors.As(err, &corrupt) {
				t.Fatalf("expected CorruptDataError, got %v", err)
			}
			if corrupt.Source != f.Path() {
				t.Fatalf("expected source %s, got %s", f.Path(), corrupt.Source)
			}
		})
	}
}

func TestFileSaveOnReadOnlyFsFails(t *testing.T) {
	base := afero.NewMemMapFs()
	if err := afero.WriteFile(base, "/settings.json", []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	f, err := NewFile("/settings.json", WithFs(afero.NewReadOnlyFs(base)))
	if err != nil {
		t.Fatalf("NewFile returned error: %v", err)
	}

	doc, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(doc, map[string]any{"a": 1.0}) {
		t.Fatalf("expected {a:1}, got %v", doc)
	}

	if err := f.Save(context.Background(), map[string]any{"a": 2.0}); err == nil {
		t.Fatalf("expected Save to fail on a read-only filesystem")
	}
}

func TestFileClosedBackendFails(t *testing.T) {
	f, _ := newMemFile(t)
	if err := f.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if _, err := f.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Load, got %v", err)
	}
	if err := f.Save(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Save, got %v", err)
	}
	if err := f.Init(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Init, got %v", err)
	}
}
