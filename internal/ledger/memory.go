package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// Memory is a process-local ledger.
type Memory struct {
	mu      sync.Mutex
	records map[string]*models.RenderRecord
}

var _ Ledger = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.RenderRecord)}
}

func (m *Memory) FindReady(_ context.Context, fileHash string) (*models.RenderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.FileHash == fileHash && rec.Status == models.StatusReady {
			cp := *rec
			cp.PageURLs = append([]string(nil), rec.PageURLs...)
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) Create(_ context.Context, rec *models.RenderRecord) error {
	cp := *rec
	m.mu.Lock()
	m.records[rec.DocumentKey] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, documentKey string, status models.RenderStatus, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[documentKey]
	if !ok {
		return fmt.Errorf("no render record for %s", documentKey)
	}
	rec.Status = status
	if u.PageCount > 0 {
		rec.PageCount = u.PageCount
	}
	if u.PageURLs != nil {
		rec.PageURLs = append([]string(nil), u.PageURLs...)
	}
	if u.ErrorDetails != "" {
		rec.ErrorDetails = u.ErrorDetails
	}
	return nil
}

// Get returns a copy of the record stored under documentKey.
func (m *Memory) Get(documentKey string) (models.RenderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[documentKey]
	if !ok {
		return models.RenderRecord{}, false
	}
	return *rec, true
}
