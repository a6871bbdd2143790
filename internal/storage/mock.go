package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Compile-time check that MemoryRemote implements Remote.
var _ Remote = (*MemoryRemote)(nil)

// MemoryRemote is an in-memory Remote used in tests and local development.
// Failure injection fields let tests simulate backend outages per operation.
type MemoryRemote struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, FailGet, FailDelete and FailExists, when set, are returned
	// by the corresponding operation instead of touching the object map.
	FailPut    *RemoteError
	FailGet    *RemoteError
	FailDelete *RemoteError
	FailExists *RemoteError
}

// NewMemoryRemote creates an empty in-memory remote store.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{objects: make(map[string][]byte)}
}

// Put stores the object bytes under the key.
func (m *MemoryRemote) Put(_ context.Context, key string, data io.Reader, _ map[string]string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return &RemoteError{Kind: KindUnknown, Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf
	return nil
}

// Get returns the object bytes under the key.
func (m *MemoryRemote) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if m.FailGet != nil {
		return nil, 0, m.FailGet
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.objects[key]
	if !ok {
		return nil, 0, &RemoteError{Kind: KindNotFound, Key: key, Err: fmt.Errorf("no such object")}
	}
	return io.NopCloser(bytes.NewReader(buf)), int64(len(buf)), nil
}

// Delete removes the object under the key.
func (m *MemoryRemote) Delete(_ context.Context, key string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Exists reports whether an object is stored under the key.
func (m *MemoryRemote) Exists(_ context.Context, key string) (bool, error) {
	if m.FailExists != nil {
		return false, m.FailExists
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Presign returns a deterministic fake URL for the key.
func (m *MemoryRemote) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://remote.example/%s?expires=%d", key, int64(ttl.Seconds())), nil
}

// Len returns the number of stored objects.
func (m *MemoryRemote) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
