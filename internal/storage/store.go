package storage

import (
	"sync"
)

// Store defines the interface for key-value storage.
type Store interface {
	// Get retrieves a value by key. The second result is false if the key is absent.
	Get(key string) ([]byte, bool)
	// Put stores a copy of value under key, replacing any previous value.
	Put(key string, value []byte)
	// Delete removes a key. Returns false if the key was not present.
	Delete(key string) bool
	// Len returns the number of stored keys.
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe and never hands out its internal buffers.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (s *InMemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid external modifications
	return append([]byte(nil), value...), true
}

// Put stores a value.
func (s *InMemoryStore) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep a non-nil slice so an empty value is still distinguishable from absence
	s.data[key] = append(make([]byte, 0, len(value)), value...)
}

// Delete removes a key.
func (s *InMemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return false
	}
	delete(s.data, key)
	return true
}

// Len returns the number of stored keys.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
