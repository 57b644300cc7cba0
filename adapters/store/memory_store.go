package store

import (
	"context"
	"sync"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// MemoryStore is an in-memory implementation of the SessionStore interface.
// It does not survive a restart and is meant for tests and embedding.
type MemoryStore struct {
	credential string
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.SessionStore {
	return &MemoryStore{}
}

// Read returns the stored credential
func (s *MemoryStore) Read(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.credential == "" {
		return "", core.ErrNoCredential
	}
	return s.credential, nil
}

// Write replaces the stored credential
func (s *MemoryStore) Write(ctx context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = credential
	return nil
}

// Clear removes the stored credential
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = ""
	return nil
}
