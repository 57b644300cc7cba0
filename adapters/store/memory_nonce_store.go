package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

type nonceEntry struct {
	nonce     string
	expiresAt time.Time
}

// MemoryNonceStore is an in-memory implementation of the NonceStore interface
type MemoryNonceStore struct {
	active  map[string]nonceEntry
	retired map[string][]nonceEntry // newest first, expiresAt is when to forget
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryNonceStore creates a new in-memory nonce store
func NewMemoryNonceStore() ports.NonceStore {
	return &MemoryNonceStore{
		active:  make(map[string]nonceEntry),
		retired: make(map[string][]nonceEntry),
		now:     time.Now,
	}
}

// Issue makes nonce the only active nonce for address
func (s *MemoryNonceStore) Issue(ctx context.Context, address, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.active[address]; ok {
		s.retire(address, prev.nonce, now)
	}
	s.active[address] = nonceEntry{nonce: nonce, expiresAt: now.Add(ttl)}
	return nil
}

// Consume removes and returns the active nonce for address
func (s *MemoryNonceStore) Consume(ctx context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.active[address]
	if !ok {
		return "", core.ErrChallengeExpiredOrConsumed
	}
	delete(s.active, address)
	s.retire(address, entry.nonce, now)

	if now.After(entry.expiresAt) {
		return "", core.ErrChallengeExpiredOrConsumed
	}
	return entry.nonce, nil
}

// Retired lists recently consumed or superseded nonces for address
func (s *MemoryNonceStore) Retired(ctx context.Context, address string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var nonces []string
	for _, entry := range s.retired[address] {
		if now.Before(entry.expiresAt) {
			nonces = append(nonces, entry.nonce)
		}
	}
	return nonces, nil
}

// retire records nonce as spent; callers hold mu
func (s *MemoryNonceStore) retire(address, nonce string, now time.Time) {
	entries := append([]nonceEntry{{nonce: nonce, expiresAt: now.Add(retiredTTL)}}, s.retired[address]...)
	if len(entries) > retiredMax {
		entries = entries[:retiredMax]
	}
	s.retired[address] = entries
}
