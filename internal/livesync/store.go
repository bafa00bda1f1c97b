// Package livesync mirrors the backend's document and duty-officer
// collections through their SSE streams.
package livesync

import (
	"sort"
	"sync"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// subscribers is a small fan-out list shared by the stores.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[T]) notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// DocumentStore holds the latest known document set keyed by id. Snapshots
// replace it, updates upsert one record, and nothing is ever deleted
// implicitly.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]models.Document
	subs subscribers[[]models.Document]
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]models.Document)}
}

// ReplaceAll installs a snapshot.
func (s *DocumentStore) ReplaceAll(docs []models.Document) {
	s.mu.Lock()
	s.docs = make(map[string]models.Document, len(docs))
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	s.mu.Unlock()
	s.subs.notify(s.All())
}

// Upsert inserts or replaces records by id.
func (s *DocumentStore) Upsert(docs ...models.Document) {
	if len(docs) == 0 {
		return
	}
	s.mu.Lock()
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	s.mu.Unlock()
	s.subs.notify(s.All())
}

// All returns the documents ordered by id.
func (s *DocumentStore) All() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Subscribe registers fn for every change and returns its cancel function.
func (s *DocumentStore) Subscribe(fn func([]models.Document)) func() {
	return s.subs.add(fn)
}

// OfficerStore holds the current duty assignment, nil when none is set.
type OfficerStore struct {
	mu       sync.RWMutex
	officers *models.DutyOfficers
	subs     subscribers[*models.DutyOfficers]
}

func NewOfficerStore() *OfficerStore {
	return &OfficerStore{}
}

func (s *OfficerStore) Set(o *models.DutyOfficers) {
	s.mu.Lock()
	if o != nil {
		c := *o
		o = &c
	}
	s.officers = o
	s.mu.Unlock()
	s.subs.notify(s.Get())
}

func (s *OfficerStore) Get() *models.DutyOfficers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.officers == nil {
		return nil
	}
	c := *s.officers
	return &c
}

func (s *OfficerStore) Subscribe(fn func(*models.DutyOfficers)) func() {
	return s.subs.add(fn)
}
