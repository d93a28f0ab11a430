// Package auth resolves transport credentials to actor identities.
package auth

import (
	"context"
	"errors"
	"time"
)

// Identity is an authenticated actor.
type Identity struct {
	// ID is the actor id carried through the pipeline and receipts.
	ID string
	// Name is a human-readable label.
	Name string
}

// APIKey binds a hashed credential to an actor.
type APIKey struct {
	// Key is the stored hash (Argon2id PHC format or sha256 hex).
	Key string
	// ActorID is the identity the key authenticates as.
	ActorID string
	// Name is a human-readable label for the key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never).
	ExpiresAt *time.Time
	// Revoked keys fail validation regardless of expiry.
	Revoked bool
}

// IsExpired reports whether the key's validity window has passed.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}

// Store errors.
var (
	ErrKeyNotFound      = errors.New("api key not found")
	ErrIdentityNotFound = errors.New("identity not found")
)

// Store persists identities and API keys.
// Interface owned by the domain per hexagonal architecture.
type Store interface {
	// GetAPIKey returns the key record for a stored hash.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// ListAPIKeys returns every stored key record.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)

	// GetIdentity returns the identity for an actor id.
	GetIdentity(ctx context.Context, actorID string) (*Identity, error)

	// PutIdentity stores an identity.
	PutIdentity(ctx context.Context, identity *Identity) error

	// PutAPIKey stores a key record.
	PutAPIKey(ctx context.Context, key *APIKey) error
}
