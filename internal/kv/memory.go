package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps every region in process memory. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu      sync.Mutex
	regions regionRegistry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{regions: regionRegistry{}}
}

func (s *MemoryStore) Open(_ context.Context, region Region) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.regions.claim(region); err != nil {
		return nil, err
	}
	return &memoryMap{}, nil
}

// memoryMap is a sorted slice of entries.
type memoryMap struct {
	mu      sync.RWMutex
	entries []Entry
}

func (m *memoryMap) search(key []byte) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].Key, key) >= 0
	})
	return i, i < len(m.entries) && bytes.Equal(m.entries[i].Key, key)
}

func (m *memoryMap) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, found := m.search(key)
	if !found {
		return nil, false, nil
	}
	return clone(m.entries[i].Value), true, nil
}

func (m *memoryMap) Insert(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.search(key)
	if found {
		m.entries[i].Value = clone(value)
		return nil
	}
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = Entry{Key: clone(key), Value: clone(value)}
	return nil
}

func (m *memoryMap) Remove(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, found := m.search(key)
	if !found {
		return nil, false, nil
	}
	value := m.entries[i].Value
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return value, true, nil
}

func (m *memoryMap) bounds(lo, hi []byte) (int, int) {
	start := 0
	if lo != nil {
		start, _ = m.search(lo)
	}
	end := len(m.entries)
	if hi != nil {
		end, _ = m.search(hi)
	}
	if end < start {
		end = start
	}
	return start, end
}

func (m *memoryMap) Range(_ context.Context, lo, hi []byte) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := m.bounds(lo, hi)
	out := make([]Entry, 0, end-start)
	for _, entry := range m.entries[start:end] {
		out = append(out, Entry{Key: clone(entry.Key), Value: clone(entry.Value)})
	}
	return out, nil
}

func (m *memoryMap) Last(ctx context.Context) (Entry, bool, error) {
	return m.LastInRange(ctx, nil, nil)
}

func (m *memoryMap) LastInRange(_ context.Context, lo, hi []byte) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start, end := m.bounds(lo, hi)
	if end == start {
		return Entry{}, false, nil
	}
	last := m.entries[end-1]
	return Entry{Key: clone(last.Key), Value: clone(last.Value)}, true, nil
}

func (m *memoryMap) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}
