package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "settings"

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithKey sets the hash key the document is stored under.
func WithKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.key = key
		}
	}
}

// WithTTL applies an expiry to the whole hash on every write. Zero disables it.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// Redis stores the document as a hash where every field holds its own
// JSON-encoded value, so single keys can be read and written independently.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	initMu sync.Mutex
	ready  bool
	closed atomic.Bool
}

// NewRedis parses a redis:// URL and returns a backend using it.
// No connection is made until the first command or Init.
func NewRedis(url string, opts ...RedisOption) (*Redis, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromClient(redis.NewClient(redisOpts), opts...), nil
}

// NewRedisFromClient wraps an existing client. The backend owns the client
// and closes it on Close.
func NewRedisFromClient(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		key:    defaultRedisKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the hash key.
func (r *Redis) Key() string {
	return r.key
}

// Init verifies connectivity. Once a ping has succeeded further calls are no-ops.
func (r *Redis) Init(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.ready {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	r.ready = true
	return nil
}

// Load reads every field of the hash.
func (r *Redis) Load(ctx context.Context) (map[string]any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}

	doc := make(map[string]any, len(fields))
	for field, raw := range fields {
		v, err := r.decode(field, raw)
		if err != nil {
			return nil, err
		}
		doc[field] = v
	}
	return doc, nil
}

// Save replaces the hash with doc in a single transaction.
func (r *Redis) Save(ctx context.Context, doc map[string]any) error {
	if r.closed.Load() {
		return ErrClosed
	}

	values := make(map[string]any, len(doc))
	for field, v := range doc {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", field, err)
		}
		values[field] = string(encoded)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
			if r.ttl > 0 {
				pipe.Expire(ctx, r.key, r.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", r.key, err)
	}
	return nil
}

// Get reads and decodes a single field.
func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	if r.closed.Load() {
		return nil, false, ErrClosed
	}

	raw, err := r.client.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget %s %s: %w", r.key, key, err)
	}

	v, err := r.decode(key, raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set writes a single field and refreshes the TTL.
func (r *Redis) Set(ctx context.Context, key string, value any) error {
	if r.closed.Load() {
		return ErrClosed
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode field %s: %w", key, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, key, string(encoded))
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset %s %s: %w", r.key, key, err)
	}
	return nil
}

// Delete removes a single field.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("hdel %s %s: %w", r.key, key, err)
	}
	return nil
}

// Exists reports whether a field is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}
	ok, err := r.client.HExists(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s %s: %w", r.key, key, err)
	}
	return ok, nil
}

// Close releases the connection. Later calls fail with ErrClosed.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) decode(field, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &CorruptDataError{
			Source: fmt.Sprintf("redis hash %s field %s", r.key, field),
			Cause:  err,
		}
	}
	return v, nil
}
