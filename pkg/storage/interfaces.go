package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetRaw/GetMeta when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal contract the gateway requires of a storage back-end.
//
// There are no ordering or transaction guarantees across keys. The package
// cache is designed so that no cross-key invariant is required: the manifest
// meta under a package prefix is the single source of truth for "hydrated",
// and its write is the commit point.
type KV interface {
	// GetRaw returns the bytes stored at key, or ErrNotFound.
	GetRaw(ctx context.Context, key string) ([]byte, error)

	// PutRaw stores bytes at key. Atomic with respect to concurrent GetRaw on
	// the same key; last-writer-wins on concurrent puts.
	PutRaw(ctx context.Context, key string, data []byte) error

	// Remove deletes the key and every key below the prefix.
	Remove(ctx context.Context, prefix string) error

	// GetMeta returns the metadata mapping for key, or ErrNotFound.
	GetMeta(ctx context.Context, key string) (map[string]string, error)

	// SetMeta merges the mapping into the metadata stored for key.
	SetMeta(ctx context.Context, key string, meta map[string]string) error
}

// Config selects and parameterizes a storage back-end.
type Config struct {
	Type string // "memory", "filesystem", "s3", "redis"

	// Filesystem config
	FilesystemRoot string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Type:            "filesystem",
		FilesystemRoot:  "/tmp/nexus",
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// New builds the configured back-end.
func New(cfg Config) (KV, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryKV(), nil
	case "filesystem":
		return NewFileSystemKV(cfg.FilesystemRoot)
	case "s3":
		return NewS3KV(cfg)
	case "redis":
		return NewRedisKV(cfg)
	default:
		return nil, fmt.Errorf("invalid storage type: %s (must be memory, filesystem, s3, or redis)", cfg.Type)
	}
}

// MetaMTime reads the mtime field of a metadata mapping. The zero time is
// returned when the field is absent or malformed.
func MetaMTime(meta map[string]string) time.Time {
	v, ok := meta["mtime"]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MTimeMeta formats a metadata mapping carrying only an mtime field.
func MTimeMeta(t time.Time) map[string]string {
	return map[string]string{"mtime": t.UTC().Format(time.RFC3339Nano)}
}
