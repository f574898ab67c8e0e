package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps saves in memory. Records are copied on the way in and
// out. It doubles as the test backend: failures can be injected per operation.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]Record

	saveError   error
	loadError   error
	listError   error
	deleteError error
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Clearer = (*MemoryStorage)(nil)
)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]Record)}
}

// SetSaveError makes Save fail with err until cleared with nil.
func (m *MemoryStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError makes Load and Exists fail with err until cleared with nil.
func (m *MemoryStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SetListError makes List fail with err until cleared with nil.
func (m *MemoryStorage) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listError = err
}

// SetDeleteError makes Delete and ClearAll fail with err until cleared with nil.
func (m *MemoryStorage) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteError = err
}

// Save stores a copy of rec.
func (m *MemoryStorage) Save(ctx context.Context, id string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveError != nil {
		return m.saveError
	}
	m.records[id] = rec.Clone()
	return nil
}

// Load returns a copy of the record, or nil when absent.
func (m *MemoryStorage) Load(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loadError != nil {
		return nil, m.loadError
	}
	rec, exists := m.records[id]
	if !exists {
		return nil, nil // Return nil for not found
	}
	out := rec.Clone()
	return &out, nil
}

// List returns the metadata of all records.
func (m *MemoryStorage) List(ctx context.Context) (map[string]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listError != nil {
		return nil, m.listError
	}
	result := make(map[string]Metadata, len(m.records))
	for id, rec := range m.records {
		result[id] = rec.Metadata.Clone()
	}
	return result, nil
}

// Delete removes a record.
func (m *MemoryStorage) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteError != nil {
		return false, m.deleteError
	}
	_, existed := m.records[id]
	delete(m.records, id)
	return existed, nil
}

// Exists reports whether id is stored.
func (m *MemoryStorage) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loadError != nil {
		return false, m.loadError
	}
	_, exists := m.records[id]
	return exists, nil
}

// ClearAll removes every record.
func (m *MemoryStorage) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteError != nil {
		return m.deleteError
	}
	m.records = make(map[string]Record)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
