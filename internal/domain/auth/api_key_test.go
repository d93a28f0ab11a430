package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mapStore is a plain map Store.
type mapStore struct {
	keys       map[string]*APIKey
	identities map[string]*Identity
}

func newMapStore() *mapStore {
	return &mapStore{
		keys:       make(map[string]*APIKey),
		identities: make(map[string]*Identity),
	}
}

func (s *mapStore) GetAPIKey(_ context.Context, keyHash string) (*APIKey, error) {
	k, ok := s.keys[keyHash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

func (s *mapStore) ListAPIKeys(context.Context) ([]*APIKey, error) {
	out := make([]*APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (s *mapStore) GetIdentity(_ context.Context, actorID string) (*Identity, error) {
	id, ok := s.identities[actorID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return id, nil
}

func (s *mapStore) PutIdentity(_ context.Context, identity *Identity) error {
	s.identities[identity.ID] = identity
	return nil
}

func (s *mapStore) PutAPIKey(_ context.Context, key *APIKey) error {
	s.keys[key.Key] = key
	return nil
}

var _ Store = (*mapStore)(nil)

func seededStore(t *testing.T, key *APIKey) *mapStore {
	t.Helper()
	store := newMapStore()
	if err := store.PutIdentity(context.Background(), &Identity{ID: "worker-1", Name: "Worker One"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAPIKeyService_Sha256FastPath(t *testing.T) {
	t.Parallel()

	store := seededStore(t, &APIKey{Key: HashKey("secret-key"), ActorID: "worker-1"})
	svc := NewAPIKeyService(store)

	identity, err := svc.Validate(context.Background(), "secret-key")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if identity.ID != "worker-1" {
		t.Errorf("identity = %q, want worker-1", identity.ID)
	}

	if _, err := svc.Validate(context.Background(), "wrong-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key error = %v, want ErrInvalidKey", err)
	}
}

func TestAPIKeyService_Argon2idFallback(t *testing.T) {
	t.Parallel()

	hash, err := HashKeyArgon2id("secret-key")
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error: %v", err)
	}
	store := seededStore(t, &APIKey{Key: hash, ActorID: "worker-1"})
	svc := NewAPIKeyService(store)

	identity, err := svc.Validate(context.Background(), "secret-key")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if identity.ID != "worker-1" {
		t.Errorf("identity = %q, want worker-1", identity.ID)
	}
}

func TestAPIKeyService_RejectsExpiredAndRevoked(t *testing.T) {
	t.Parallel()

	past := time.Now().UTC().Add(-time.Hour)

	tests := []struct {
		name string
		key  *APIKey
	}{
		{"expired", &APIKey{Key: HashKey("secret-key"), ActorID: "worker-1", ExpiresAt: &past}},
		{"revoked", &APIKey{Key: HashKey("secret-key"), ActorID: "worker-1", Revoked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAPIKeyService(seededStore(t, tt.key))
			if _, err := svc.Validate(context.Background(), "secret-key"); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Validate() error = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestDetectHashType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hash string
		want string
	}{
		{"$argon2id$v=19$m=48128,t=1,p=1$abc$def", "argon2id"},
		{"sha256:" + HashKey("x"), "sha256"},
		{HashKey("x"), "sha256"},
		{"not-a-hash", "unknown"},
	}

	for _, tt := range tests {
		if got := DetectHashType(tt.hash); got != tt.want {
			t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestVerifyKey(t *testing.T) {
	t.Parallel()

	// sha256 with and without prefix.
	for _, stored := range []string{HashKey("k"), "sha256:" + HashKey("k")} {
		match, err := VerifyKey("k", stored)
		if err != nil || !match {
			t.Errorf("VerifyKey(k, %q) = %v, %v", stored, match, err)
		}
		match, err = VerifyKey("other", stored)
		if err != nil || match {
			t.Errorf("VerifyKey(other, %q) = %v, %v", stored, match, err)
		}
	}

	if _, err := VerifyKey("k", "garbage"); !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("unknown format error = %v, want ErrUnknownHashType", err)
	}

	// Malformed PHC strings must not panic the caller.
	if match, err := VerifyKey("k", "$argon2id$v=19$m=0,t=0,p=0$$"); match || err == nil {
		t.Errorf("malformed argon2id hash: match=%v err=%v", match, err)
	}
}

func TestHashKey(t *testing.T) {
	t.Parallel()

	h := HashKey("dev-api-key")
	if len(h) != 64 || strings.ToLower(h) != h {
		t.Errorf("HashKey() = %q, want lowercase 64-char hex", h)
	}
	if h != HashKey("dev-api-key") {
		t.Error("HashKey should be deterministic")
	}
}
