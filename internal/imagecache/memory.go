package imagecache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, e *Entry) error {
	cp := *e
	cp.Data = append([]byte(nil), e.Data...)
	m.mu.Lock()
	m.entries[e.Key] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := make([]Meta, 0, len(m.entries))
	for _, e := range m.entries {
		metas = append(metas, Meta{Key: e.Key, URL: e.URL, Timestamp: e.Timestamp, Size: e.Size})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Key < metas[j].Key })
	return metas, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
