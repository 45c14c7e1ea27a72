package persist

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Backend stores raw document bytes under a key. Write must replace the
// previous value atomically: a failed Write leaves the old value readable.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".")
}

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes map[string]int
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:   make(map[string][]byte),
		writes: make(map[string]int),
	}
}

func (m *MemoryBackend) Read(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *MemoryBackend) Write(_ context.Context, key string, data []byte) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	m.writes[key]++
	return nil
}

func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Close() error { return nil }

// Writes reports how many times key has been written.
func (m *MemoryBackend) Writes(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[key]
}
