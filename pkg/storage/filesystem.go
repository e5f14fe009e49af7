package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// metaSuffix is appended to a key's on-disk path to hold its metadata mapping.
const metaSuffix = ".nexus-meta.json"

// FileSystemKV implements KV on the local filesystem. Raw bytes live at the
// key's path under the root directory; metadata lives in a JSON sidecar.
type FileSystemKV struct {
	rootDir string
}

// NewFileSystemKV creates a new filesystem-backed store.
func NewFileSystemKV(rootDir string) (*FileSystemKV, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemKV{rootDir: rootDir}, nil
}

// keyPath maps a storage key to an on-disk path. Keys are slash-separated and
// never contain ".." after URL routing, but reject escapes anyway.
func (s *FileSystemKV) keyPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.rootDir, clean), nil
}

// GetRaw implements KV.GetRaw.
func (s *FileSystemKV) GetRaw(_ context.Context, key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// PutRaw implements KV.PutRaw. The write goes through a temp file and rename
// so concurrent readers never observe a partial value.
func (s *FileSystemKV) PutRaw(_ context.Context, key string, data []byte) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file for %s: %w", key, err)
	}
	return nil
}

// Remove implements KV.Remove.
func (s *FileSystemKV) Remove(_ context.Context, prefix string) error {
	path, err := s.keyPath(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", prefix, err)
	}
	// A prefix that was stored as a single file may also carry a sidecar.
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove meta for %s: %w", prefix, err)
	}
	return nil
}

// GetMeta implements KV.GetMeta.
func (s *FileSystemKV) GetMeta(_ context.Context, key string) (map[string]string, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path + metaSuffix)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta for %s: %w", key, err)
	}

	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta for %s: %w", key, err)
	}
	return meta, nil
}

// SetMeta implements KV.SetMeta with merge semantics.
func (s *FileSystemKV) SetMeta(ctx context.Context, key string, meta map[string]string) error {
	existing, err := s.GetMeta(ctx, key)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing == nil {
		existing = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		existing[k] = v
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to marshal meta for %s: %w", key, err)
	}

	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	// The meta sidecar may exist for a key whose raw path is a directory
	// prefix (package manifests), so create parents either way.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path+metaSuffix, data, 0644); err != nil {
		return fmt.Errorf("failed to write meta for %s: %w", key, err)
	}
	return nil
}
