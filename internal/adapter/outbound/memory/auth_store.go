package memory

import (
	"context"
	"sync"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
)

// AuthStore implements auth.Store in memory, seeded from configuration
// at startup.
type AuthStore struct {
	mu         sync.RWMutex
	keys       map[string]*auth.APIKey
	identities map[string]*auth.Identity
}

// NewAuthStore creates an empty in-memory auth store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		keys:       make(map[string]*auth.APIKey),
		identities: make(map[string]*auth.Identity),
	}
}

// GetAPIKey returns the key record for a stored hash.
func (s *AuthStore) GetAPIKey(_ context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyHash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	copied := *k
	return &copied, nil
}

// ListAPIKeys returns every stored key record.
func (s *AuthStore) ListAPIKeys(_ context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auth.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		copied := *k
		out = append(out, &copied)
	}
	return out, nil
}

// GetIdentity returns the identity for an actor id.
func (s *AuthStore) GetIdentity(_ context.Context, actorID string) (*auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.identities[actorID]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	copied := *id
	return &copied, nil
}

// PutIdentity stores an identity.
func (s *AuthStore) PutIdentity(_ context.Context, identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *identity
	s.identities[identity.ID] = &copied
	return nil
}

// PutAPIKey stores a key record, keyed by its stored hash.
func (s *AuthStore) PutAPIKey(_ context.Context, key *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *key
	s.keys[key.Key] = &copied
	return nil
}

// Compile-time interface verification.
var _ auth.Store = (*AuthStore)(nil)
