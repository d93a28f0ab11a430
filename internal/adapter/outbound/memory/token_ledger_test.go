package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
)

func testToken(id string, now time.Time) capability.Token {
	return capability.Token{
		ID:          id,
		ActionID:    "action:job:run",
		Actor:       "worker-1",
		PayloadHash: "hash-abc",
		IssuedAt:    now,
		ExpiresAt:   now.Add(capability.DefaultTTL),
	}
}

func TestTokenLedger_RedeemOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	ledger := NewTokenLedger()

	if err := ledger.Mint(ctx, testToken("t-1", now)); err != nil {
		t.Fatalf("Mint() error: %v", err)
	}

	outcome, err := ledger.Redeem(ctx, "t-1", "action:job:run", "hash-abc", now)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if outcome != capability.RedeemOK {
		t.Fatalf("first redeem = %s, want %s", outcome, capability.RedeemOK)
	}

	outcome, err = ledger.Redeem(ctx, "t-1", "action:job:run", "hash-abc", now)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if outcome != capability.RedeemAlreadySpent {
		t.Errorf("replay redeem = %s, want %s", outcome, capability.RedeemAlreadySpent)
	}
}

func TestTokenLedger_RedeemOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name        string
		tokenID     string
		actionID    string
		payloadHash string
		at          time.Time
		want        capability.RedeemOutcome
	}{
		{
			name:        "unknown token",
			tokenID:     "no-such-token",
			actionID:    "action:job:run",
			payloadHash: "hash-abc",
			at:          now,
			want:        capability.RedeemTokenMissing,
		},
		{
			name:        "action mismatch",
			tokenID:     "t-1",
			actionID:    "action:memory:create",
			payloadHash: "hash-abc",
			at:          now,
			want:        capability.RedeemActionMismatch,
		},
		{
			name:        "payload mismatch",
			tokenID:     "t-1",
			actionID:    "action:job:run",
			payloadHash: "hash-other",
			at:          now,
			want:        capability.RedeemPayloadMismatch,
		},
		{
			name:        "expired",
			tokenID:     "t-1",
			actionID:    "action:job:run",
			payloadHash: "hash-abc",
			at:          now.Add(capability.DefaultTTL + time.Second),
			want:        capability.RedeemExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewTokenLedger()
			if err := ledger.Mint(ctx, testToken("t-1", now)); err != nil {
				t.Fatalf("Mint() error: %v", err)
			}

			outcome, err := ledger.Redeem(ctx, tt.tokenID, tt.actionID, tt.payloadHash, tt.at)
			if err != nil {
				t.Fatalf("Redeem() error: %v", err)
			}
			if outcome != tt.want {
				t.Errorf("Redeem() = %s, want %s", outcome, tt.want)
			}
		})
	}
}

func TestTokenLedger_ConcurrentRedeem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	ledger := NewTokenLedger()
	if err := ledger.Mint(ctx, testToken("t-race", now)); err != nil {
		t.Fatalf("Mint() error: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	outcomes := make([]capability.RedeemOutcome, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := ledger.Redeem(ctx, "t-race", "action:job:run", "hash-abc", now)
			if err != nil {
				t.Errorf("Redeem() error: %v", err)
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	okCount := 0
	for _, o := range outcomes {
		if o == capability.RedeemOK {
			okCount++
		}
	}
	if okCount != 1 {
		t.Errorf("%d redeems returned OK, want exactly 1", okCount)
	}
}

func TestTokenLedger_GC(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	ledger := NewTokenLedger()

	if err := ledger.Mint(ctx, testToken("t-old", now.Add(-time.Hour))); err != nil {
		t.Fatalf("Mint() error: %v", err)
	}
	if err := ledger.Mint(ctx, testToken("t-fresh", now)); err != nil {
		t.Fatalf("Mint() error: %v", err)
	}

	removed, err := ledger.GC(ctx, now)
	if err != nil {
		t.Fatalf("GC() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("GC() removed %d, want 1", removed)
	}
	if ledger.Size() != 1 {
		t.Errorf("Size() = %d after GC, want 1", ledger.Size())
	}
}
