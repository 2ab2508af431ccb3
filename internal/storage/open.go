package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Kind names a backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
)

// ParseKind maps a configuration string to a Kind. An empty string means memory.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindMemory:
		return KindMemory, nil
	case KindFile:
		return KindFile, nil
	case KindRedis:
		return KindRedis, nil
	default:
		return "", fmt.Errorf("storage: unknown backend %q", s)
	}
}

// Options selects and configures a backend for Open.
type Options struct {
	Kind     Kind
	Path     string
	RedisURL string
	RedisKey string
	TTL      time.Duration
	Fs       afero.Fs
}

// Open builds the backend described by opts. It performs no I/O.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case "", KindMemory:
		return NewMemory(), nil
	case KindFile:
		var fileOpts []FileOption
		if opts.Fs != nil {
			fileOpts = append(fileOpts, WithFs(opts.Fs))
		}
		return NewFile(opts.Path, fileOpts...)
	case KindRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("storage: redis backend requires a url")
		}
		return NewRedis(opts.RedisURL, WithKey(opts.RedisKey), WithTTL(opts.TTL))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Kind)
	}
}
