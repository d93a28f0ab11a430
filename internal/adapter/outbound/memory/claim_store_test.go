package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
)

func TestClaimStore_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewClaimStore()

	if _, found, err := store.GetByKey(ctx, "capital:fr"); err != nil || found {
		t.Fatalf("GetByKey() on empty store = found=%v err=%v", found, err)
	}

	claim := knowledge.Claim{
		ID:     "claim-1",
		Key:    "capital:fr",
		Text:   "Paris is the capital of France.",
		Status: knowledge.StatusGrounded,
	}
	if err := store.Put(ctx, claim); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, found, err := store.GetByKey(ctx, "capital:fr")
	if err != nil || !found {
		t.Fatalf("GetByKey() = found=%v err=%v", found, err)
	}
	if got.ID != "claim-1" || got.Text != claim.Text {
		t.Errorf("GetByKey() = %+v", got)
	}
}

func TestClaimStore_GroundedClaimImmutable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewClaimStore()

	first := knowledge.Claim{
		ID:     "claim-1",
		Key:    "capital:fr",
		Text:   "Paris is the capital of France.",
		Status: knowledge.StatusGrounded,
	}
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	second := first
	second.ID = "claim-2"
	second.Text = "Lyon is the capital of France."
	if err := store.Put(ctx, second); !errors.Is(err, ErrClaimExists) {
		t.Errorf("Put() over grounded claim error = %v, want ErrClaimExists", err)
	}

	// The original survives.
	got, _, err := store.GetByKey(ctx, "capital:fr")
	if err != nil {
		t.Fatalf("GetByKey() error: %v", err)
	}
	if got.ID != "claim-1" {
		t.Errorf("stored claim = %q, want claim-1", got.ID)
	}
}

func TestClaimStore_KeylessClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewClaimStore()

	for i := 0; i < 3; i++ {
		if err := store.Put(ctx, knowledge.Claim{ID: "claim", Status: knowledge.StatusHypothesis}); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}
	if store.Size() != 3 {
		t.Errorf("Size() = %d, want 3", store.Size())
	}
}
