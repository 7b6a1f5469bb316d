package buffer

import (
	"context"
	"path"
	"sync"

	"github.com/okian/sightline/internal/domain/classifier"
)

// Memory implements Buffer with process-local state. It backs tests and
// single-process development runs; semantics mirror the redis adapter,
// including atomic delete-if-empty.
type Memory struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	model   []byte
	version int64
	closed  bool
}

// NewMemory creates an empty in-memory buffer.
func NewMemory() *Memory {
	return &Memory{lists: make(map[string][][]byte)}
}

func (m *Memory) Append(ctx context.Context, key string, value []byte) error {
	return m.AppendBatch(ctx, key, [][]byte{value})
}

func (m *Memory) AppendBatch(_ context.Context, key string, values [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, v := range values {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.lists[key] = append(m.lists[key], cp)
	}
	return nil
}

func (m *Memory) PopAll(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := m.lists[key]
	// Keep the key present with an empty list, matching a drained redis
	// list before its key expires or is cleaned up.
	if out != nil {
		m.lists[key] = nil
	}
	return out, nil
}

func (m *Memory) Len(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	var out []string
	for k := range m.lists {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) DeleteIfEmpty(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}
	if _, exists := m.lists[key]; !exists {
		return false, nil
	}
	if len(m.lists[key]) > 0 {
		return false, nil
	}
	delete(m.lists, key)
	return true, nil
}

func (m *Memory) SetModel(_ context.Context, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.model = cp
	m.version++
	return m.version, nil
}

func (m *Memory) GetModel(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.model == nil {
		return nil, classifier.ErrNoModel
	}
	return m.model, nil
}

func (m *Memory) ModelVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	return m.version, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
