package mocks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

// ErrQuotaExceeded is returned by MockKeyValueStore for keys scripted to fail
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// MockKeyValueStore implements domain.KeyValueStore with write failure injection
type MockKeyValueStore struct {
	mu       sync.RWMutex
	values   map[string]string
	failSet  map[string]bool
	corrupts map[string]string // key -> value actually stored on Set

	Sets    int64
	Deletes int64
}

// NewMockKeyValueStore creates an empty store
func NewMockKeyValueStore() *MockKeyValueStore {
	return &MockKeyValueStore{
		values:   make(map[string]string),
		failSet:  make(map[string]bool),
		corrupts: make(map[string]string),
	}
}

// FailSet makes every Set of key fail with ErrQuotaExceeded
func (m *MockKeyValueStore) FailSet(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet[key] = true
}

// CorruptSet makes Set of key silently store stored instead of the given value
func (m *MockKeyValueStore) CorruptSet(key, stored string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupts[key] = stored
}

// Get implements domain.KeyValueStore
func (m *MockKeyValueStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

// Set implements domain.KeyValueStore
func (m *MockKeyValueStore) Set(ctx context.Context, key string, value string) error {
	atomic.AddInt64(&m.Sets, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet[key] {
		return ErrQuotaExceeded
	}
	if stored, ok := m.corrupts[key]; ok {
		value = stored
	}
	m.values[key] = value
	return nil
}

// Delete implements domain.KeyValueStore
func (m *MockKeyValueStore) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.Deletes, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Values returns a copy of the stored values
func (m *MockKeyValueStore) Values() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
