package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://"+mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("NewRedis returned error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func mustLoad(t *testing.T, b Backend) map[string]any {
	t.Helper()
	doc, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return doc
}

func TestNewRedisInvalidURL(t *testing.T) {
	if _, err := NewRedis("not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestRedisInitIsIdempotent(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	for range 2 {
		if err := r.Init(ctx); err != nil {
			t.Fatalf("Init returned error: %v", err)
		}
	}
}

func TestRedisLoadEmpty(t *testing.T) {
	r, _ := newTestRedis(t)

	if doc := mustLoad(t, r); doc == nil || len(doc) != 0 {
		t.Fatalf("expected empty non-nil document, got %v", doc)
	}
}

func TestRedisSaveStoresFieldsIndependently(t *testing.T) {
	r, mr := newTestRedis(t, WithKey("settings:api"))
	ctx := context.Background()

	err := r.Save(ctx, map[string]any{
		"connection_count": 3,
		"name":             "api",
		"tags":             []any{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	for field, want := range map[string]string{
		"connection_count": "3",
		"name":             `"api"`,
		"tags":             `["a","b"]`,
	} {
		if got := mr.HGet("settings:api", field); got != want {
			t.Fatalf("field %s: expected %s, got %s", field, want, got)
		}
	}

	want := map[string]any{
		"connection_count": 3.0,
		"name":             "api",
		"tags":             []any{"a", "b"},
	}
	if doc := mustLoad(t, r); !reflect.DeepEqual(doc, want) {
		t.Fatalf("expected %v, got %v", want, doc)
	}
}

func TestRedisSaveReplacesHash(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	if err := r.Save(ctx, map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := r.Save(ctx, map[string]any{"b": 5}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if doc := mustLoad(t, r); !reflect.DeepEqual(doc, map[string]any{"b": 5.0}) {
		t.Fatalf("expected {b:5}, got %v", doc)
	}
}

func TestRedisTTLAppliedOnWrite(t *testing.T) {
	r, mr := newTestRedis(t, WithKey("cfg"), WithTTL(time.Minute))
	ctx := context.Background()

	if err := r.Save(ctx, map[string]any{"a": 1}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if ttl := mr.TTL("cfg"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %s", ttl)
	}

	mr.FastForward(30 * time.Second)
	if err := r.Set(ctx, "b", true); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if ttl := mr.TTL("cfg"); ttl != time.Minute {
		t.Fatalf("expected Set to refresh the ttl, got %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if doc := mustLoad(t, r); len(doc) != 0 {
		t.Fatalf("expected expired document, got %v", doc)
	}
}

func TestRedisKeyOperations(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	if _, ok, err := r.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got present=%v err=%v", ok, err)
	}

	if err := r.Set(ctx, "limits", map[string]any{"rps": 10}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	v, ok, err := r.Get(ctx, "limits")
	if err != nil || !ok {
		t.Fatalf("expected limits to be present, got present=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(v, map[string]any{"rps": 10.0}) {
		t.Fatalf("expected {rps:10}, got %v", v)
	}

	if exists, err := r.Exists(ctx, "limits"); err != nil || !exists {
		t.Fatalf("expected limits to exist (err=%v)", err)
	}
	if err := r.Delete(ctx, "limits"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if exists, err := r.Exists(ctx, "limits"); err != nil || exists {
		t.Fatalf("expected limits to be deleted (err=%v)", err)
	}
}

func TestRedisCorruptField(t *testing.T) {
	r, mr := newTestRedis(t, WithKey("cfg"))
	mr.HSet("cfg", "broken", "{not json")

	_, err := r.Load(context.Background())
	var corrupt *CorruptDataError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptDataError, got %v", err)
	}
	if !strings.Contains(corrupt.Source, "broken") {
		t.Fatalf("expected source to name the field, got %s", corrupt.Source)
	}

	if _, _, err := r.Get(context.Background(), "broken"); !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptDataError from Get, got %v", err)
	}
}

func TestRedisCallsAfterCloseFail(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	for range 2 {
		if err := r.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}

	if _, err := r.Load(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Load, got %v", err)
	}
	if err := r.Save(ctx, map[string]any{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Save, got %v", err)
	}
	if err := r.Init(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Init, got %v", err)
	}
	if _, _, err := r.Get(ctx, "a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Get, got %v", err)
	}
}

func TestRedisUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis returned error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Init(ctx); err == nil {
		t.Fatalf("expected Init to fail against a stopped server")
	}
}
