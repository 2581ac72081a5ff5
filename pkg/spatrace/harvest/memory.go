package harvest

import (
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps the queue in memory. Data is lost when the process
// exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	seq     int64
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Append implements Store.
func (m *MemoryStore) Append(id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.seq++
	m.records[id] = Record{
		ID:        id,
		Sequence:  m.seq,
		Timestamp: time.Now().UTC(),
		Data:      slices.Clone(data),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec.Data), nil
}

// Pending implements Store.
func (m *MemoryStore) Pending(limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Data = slices.Clone(rec.Data)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		return int(a.Sequence - b.Sequence)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ack implements Store.
func (m *MemoryStore) Ack(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Len implements Store.
func (m *MemoryStore) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.records), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}
