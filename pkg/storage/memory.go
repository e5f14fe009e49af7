package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryKV implements KV with in-process maps. Used for tests and for
// single-node deployments that can afford to lose the cache on restart.
type MemoryKV struct {
	mu   sync.RWMutex
	raw  map[string][]byte
	meta map[string]map[string]string
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		raw:  make(map[string][]byte),
		meta: make(map[string]map[string]string),
	}
}

// GetRaw implements KV.GetRaw.
func (s *MemoryKV) GetRaw(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.raw[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// PutRaw implements KV.PutRaw.
func (s *MemoryKV) PutRaw(_ context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[key] = stored
	return nil
}

// Remove implements KV.Remove.
func (s *MemoryKV) Remove(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.raw {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			delete(s.raw, key)
		}
	}
	for key := range s.meta {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			delete(s.meta, key)
		}
	}
	return nil
}

// GetMeta implements KV.GetMeta.
func (s *MemoryKV) GetMeta(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out, nil
}

// SetMeta implements KV.SetMeta with merge semantics.
func (s *MemoryKV) SetMeta(_ context.Context, key string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.meta[key]
	if !ok {
		existing = make(map[string]string, len(meta))
		s.meta[key] = existing
	}
	for k, v := range meta {
		existing[k] = v
	}
	return nil
}
