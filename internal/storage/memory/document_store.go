// Package memory keeps documents in-memory for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/erasure/internal/storage"
)

// DocumentStore stores documents in a map and returns pseudo URIs.
type DocumentStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	failPut error
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty in-memory store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored document.
func (s *DocumentStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data.
func (s *DocumentStore) Put(_ context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", errors.New("document name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return "", s.failPut
	}
	s.data[name] = append([]byte(nil), data...)
	return "memory://" + name, nil
}

// FailPuts makes every subsequent Put return err; nil restores normal behavior.
func (s *DocumentStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = err
}

// Names lists stored document names.
func (s *DocumentStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	return names
}
