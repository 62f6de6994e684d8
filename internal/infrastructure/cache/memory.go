package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// memoryStore is the LastKnownStore used when Redis is not configured.
// Values are kept as JSON so both stores decode the same way.
type memoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an in-process LastKnownStore
func NewMemoryStore() LastKnownStore {
	return &memoryStore{values: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode key '%s': %w", key, err)
	}
	return true, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func (m *memoryStore) Close() error { return nil }
