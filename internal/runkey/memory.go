package runkey

import (
	"context"
	"sync"
	"time"
)

// MemStore is a process-local Store, grounded on the teacher's
// store.MemStore idempotency-map pattern. Useful for tests and
// single-process deployments.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (m *MemStore) Get(_ context.Context, key string) (map[string]interface{}, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Payload, true, nil
}

func (m *MemStore) Put(_ context.Context, key string, payload map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[key]; ok {
		return existing.Payload, nil
	}
	m.records[key] = Record{Key: key, Payload: payload, CreatedAt: time.Now()}
	return payload, nil
}
