package compiler

import (
	"errors"
	"sync"

	"github.com/fortiblox/gpgpu-rt/internal/types"
)

// ErrStoreClosed is returned by a store after Close.
var ErrStoreClosed = errors.New("cache store closed")

// Store keeps cache entries. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the entry for key; ok is false if there is none.
	Get(key types.ContentID) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any previous entry.
	Put(key types.ContentID, value []byte) error

	// Delete removes the entry for key if present.
	Delete(key types.ContentID) error

	// Len returns the number of entries.
	Len() (int, error)

	Close() error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[types.ContentID][]byte
	closed  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[types.ContentID][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(key types.ContentID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(key types.ContentID, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key types.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, key)
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.entries), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
