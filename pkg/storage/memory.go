package storage

import (
	"sort"
	"sync"

	"github.com/tripab/replicanode/pkg/versioning"
)

// MemoryStorage provides an in-memory storage implementation
type MemoryStorage struct {
	data map[string][]versioning.VersionedValue
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]versioning.VersionedValue),
	}
}

func (m *MemoryStorage) Get(key string) ([]versioning.VersionedValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrStorageClosed
	}
	values, exists := m.data[key]
	if !exists || len(values) == 0 {
		return nil, ErrKeyNotFound
	}

	// Return a copy
	result := make([]versioning.VersionedValue, len(values))
	copy(result, values)
	return result, nil
}

func (m *MemoryStorage) Put(key string, value versioning.VersionedValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return ErrStorageClosed
	}

	existing := m.data[key]
	combined := make([]versioning.VersionedValue, 0, len(existing)+1)
	combined = append(combined, existing...)
	combined = append(combined, value)

	// keep only concurrent siblings
	m.data[key] = versioning.ReconcileConcurrent(combined)
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return ErrStorageClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStorage) GetAllKeys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrStorageClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}
