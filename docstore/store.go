// Package docstore provides keyed document persistence for catalog and
// run records.
//
// Documents are msgpack-encoded structs. The store contract is small on
// purpose: upsert-by-key, find-by-key, a compare-and-swap insert used to
// claim free cache keys, and a compare-and-swap replace used to take over
// occupied ones. A Redis backend serves production; an in-memory backend
// serves tests.
package docstore

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("document not found")

// Store persists msgpack-encoded documents by key.
type Store interface {
	// Put upserts the document under key.
	Put(ctx context.Context, key string, doc any) error

	// PutIfAbsent inserts the document only if the key is free.
	// Returns true when this call inserted the document, false when a
	// document already existed (the existing document is left untouched).
	PutIfAbsent(ctx context.Context, key string, doc any) (bool, error)

	// Get decodes the document under key into out.
	// Returns ErrNotFound when no document exists.
	Get(ctx context.Context, key string, out any) error

	// GetRaw returns the encoded document bytes under key, for use as
	// the expected value of a later Swap. Returns ErrNotFound when no
	// document exists.
	GetRaw(ctx context.Context, key string) ([]byte, error)

	// Swap replaces the document under key only while the stored bytes
	// still equal expected. Returns true when this call replaced the
	// document, false when it changed or disappeared since expected was
	// read (the stored document is left untouched).
	Swap(ctx context.Context, key string, expected []byte, doc any) (bool, error)

	// Close releases store resources.
	Close() error
}

// encode marshals a document to msgpack bytes.
func encode(doc any) ([]byte, error) {
	return msgpack.Marshal(doc)
}

// decode unmarshals msgpack bytes into out.
func decode(data []byte, out any) error {
	return msgpack.Unmarshal(data, out)
}

// Decode unmarshals encoded document bytes, as returned by GetRaw,
// into out.
func Decode(data []byte, out any) error {
	return decode(data, out)
}

// MemoryStore is an in-memory Store for tests. Documents round-trip
// through the msgpack codec so tests exercise the same encoding as the
// Redis backend.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, doc any) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = data
	return nil
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, doc any) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[key]; exists {
		return false, nil
	}
	s.docs[key] = data
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string, out any) error {
	s.mu.Lock()
	data, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return decode(data, out)
}

// GetRaw implements Store.
func (s *MemoryStore) GetRaw(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Swap implements Store.
func (s *MemoryStore) Swap(_ context.Context, key string, expected []byte, doc any) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[key]
	if !ok || !bytes.Equal(current, expected) {
		return false, nil
	}
	s.docs[key] = data
	return true, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
