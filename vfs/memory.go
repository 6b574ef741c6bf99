package vfs

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemFS is an in-memory FileSystem. It backs mem:// URIs and is the default
// target for tests. Thread-safe for concurrent reads and writes.
type MemFS struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemFS creates an empty in-memory file system.
func NewMemFS() *MemFS {
	return &MemFS{
		objects: make(map[string][]byte),
	}
}

// Open opens an object for reading.
func (m *MemFS) Open(_ context.Context, name string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[name]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy so later writes cannot mutate an open handle.
	copied := make([]byte, len(data))
	copy(copied, data)

	return &memFile{data: copied}, nil
}

// Put atomically writes an object.
func (m *MemFS) Put(_ context.Context, name string, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = copied
	return nil
}

// Delete removes an object.
func (m *MemFS) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

// List returns the names of all objects with the given prefix, sorted.
func (m *MemFS) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memFile struct {
	data []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Size() int64 { return int64(len(f.data)) }
