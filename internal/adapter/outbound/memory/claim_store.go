package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
)

// ErrClaimExists is returned when a grounded claim under the same key
// is already stored.
var ErrClaimExists = errors.New("grounded claim already exists for key")

// ClaimStore implements knowledge.ClaimStore in memory.
type ClaimStore struct {
	mu     sync.RWMutex
	byKey  map[string]knowledge.Claim
	others []knowledge.Claim
}

// NewClaimStore creates an empty in-memory claim store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{byKey: make(map[string]knowledge.Claim)}
}

// GetByKey returns the stored grounded claim for key, if any.
func (s *ClaimStore) GetByKey(_ context.Context, key string) (knowledge.Claim, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byKey[key]
	return c, ok, nil
}

// Put stores an accepted claim. An existing grounded claim under the
// same key is never replaced.
func (s *ClaimStore) Put(_ context.Context, c knowledge.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Key == "" {
		s.others = append(s.others, c)
		return nil
	}
	if existing, ok := s.byKey[c.Key]; ok && existing.Status == knowledge.StatusGrounded {
		return ErrClaimExists
	}
	s.byKey[c.Key] = c
	return nil
}

// Size returns the number of stored claims.
func (s *ClaimStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey) + len(s.others)
}

// Compile-time interface verification.
var _ knowledge.ClaimStore = (*ClaimStore)(nil)
