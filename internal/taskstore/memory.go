package taskstore

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KV used in tests and ephemeral agents.
type MemoryKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	putErr error
	puts   int
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string][]byte{}}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.data[key] = buf
	m.puts++
	return nil
}

// SetFailures configures the errors returned by subsequent calls.
func (m *MemoryKV) SetFailures(getErr, putErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = getErr
	m.putErr = putErr
}

// Puts reports how many successful writes happened.
func (m *MemoryKV) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
