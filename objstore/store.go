// Package objstore provides durable blob storage for archive bytes.
//
// Two backends are available: S3 (including S3-compatible providers) and
// an in-memory store for tests. URIs are scheme-prefixed so a record's
// StorageURI always identifies its backend.
package objstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store persists opaque byte blobs under hash-derived keys.
type Store interface {
	// Put writes data under key and returns the canonical URI.
	// Writing identical bytes under an existing key is idempotent.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get reads the blob at the given URI.
	// Returns an error matching ErrNotFound when the object is absent.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Puts counts Put calls, including idempotent re-writes.
	Puts int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts++
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return "mem://" + key, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, uri string) ([]byte, error) {
	key := strings.TrimPrefix(uri, "mem://")
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, NewStorageError(ErrNotFound, "read", uri, fmt.Errorf("no object at %s", uri))
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
