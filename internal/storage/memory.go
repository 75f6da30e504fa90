package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore serves snapshots and reports from an in-memory Dataset. It is
// used by tests and by callers that already hold the data.
type MemoryStore struct {
	mu sync.RWMutex
	ds Dataset
}

// NewMemoryStore returns a store over a copy of ds's slices.
func NewMemoryStore(ds Dataset) *MemoryStore {
	m := &MemoryStore{}
	m.Replace(ds)
	return m
}

// Replace swaps the store's content.
func (m *MemoryStore) Replace(ds Dataset) {
	cp := Dataset{
		Departments: append([]Department(nil), ds.Departments...),
		Categories:  append([]Category(nil), ds.Categories...),
		Documents:   append([]Document(nil), ds.Documents...),
		Shares:      append([]Share(nil), ds.Shares...),
	}
	m.mu.Lock()
	m.ds = cp
	m.mu.Unlock()
}

func (m *MemoryStore) Snapshot(_ context.Context, scope Scope) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ds.snapshot(scope), nil
}

func (m *MemoryStore) ExpiringDocuments(_ context.Context, scope Scope, from, to time.Time) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ds.expiring(scope, from, to), nil
}

func (m *MemoryStore) SharedDocuments(_ context.Context, scope Scope, userID string, dir ShareDirection) ([]SharedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ds.shared(scope, userID, dir), nil
}

func (m *MemoryStore) CategoriesByNFC(_ context.Context, scope Scope, registered bool) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ds.categoriesByNFC(scope, registered), nil
}
