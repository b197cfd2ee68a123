package testutil

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBlobStore is a content-addressable in-memory blob store.
//
// Ids are assigned in first-seen order as "blob-1", "blob-2", ...; storing
// identical content again returns the id it already has. This keeps test
// segment ids stable without hashing.
//
// Thread-safety: safe for concurrent use via internal mutex.
type MemoryBlobStore struct {
	mu    sync.Mutex
	ids   map[string]string
	blobs map[string][]byte
	puts  int

	// FailNext makes the next Put return this error once.
	FailNext error
}

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		ids:   make(map[string]string),
		blobs: make(map[string][]byte),
	}
}

// Put stores data and returns its id.
func (s *MemoryBlobStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return "", err
	}

	key := string(data)
	if id, ok := s.ids[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("blob-%d", len(s.ids)+1)
	s.ids[key] = id
	s.blobs[id] = append([]byte(nil), data...)
	return id, nil
}

// Get returns a stored blob.
func (s *MemoryBlobStore) Get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Puts returns how many times Put was called, including failures.
func (s *MemoryBlobStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
