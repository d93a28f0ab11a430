// Package capability defines single-use capability tokens and the
// ledger that enforces their discipline: a token authorizes exactly one
// call matching its (action_id, payload_hash) pair and may be redeemed
// at most once before expiry.
package capability

import (
	"context"
	"time"
)

// DefaultTTL is how long a minted token stays redeemable.
const DefaultTTL = 5 * time.Minute

// DefaultGCGrace is how long a token record outlives its expiry before
// the ledger garbage-collects it.
const DefaultGCGrace = time.Minute

// Token is a single-use authorization tying an action to a payload hash.
type Token struct {
	// ID uniquely identifies the token.
	ID string
	// ActionID is the only action this token authorizes.
	ActionID string
	// Actor is the identity the token was minted for.
	Actor string
	// PayloadHash is the sha256 of the sanitized payload the token covers.
	PayloadHash string
	// Capabilities lists the genome capability ids that granted the mint.
	Capabilities []string
	// IssuedAt is the mint time.
	IssuedAt time.Time
	// ExpiresAt is when the token stops being redeemable.
	ExpiresAt time.Time
}

// RedeemOutcome is the closed set of redeem results.
type RedeemOutcome string

const (
	// RedeemOK means the token was valid and is now spent.
	RedeemOK RedeemOutcome = "ok"
	// RedeemTokenMissing means the ledger has no such token.
	RedeemTokenMissing RedeemOutcome = "token_missing"
	// RedeemActionMismatch means the call named a different action.
	RedeemActionMismatch RedeemOutcome = "action_mismatch"
	// RedeemPayloadMismatch means the call carried a different payload.
	RedeemPayloadMismatch RedeemOutcome = "payload_mismatch"
	// RedeemExpired means the token's TTL elapsed before redemption.
	RedeemExpired RedeemOutcome = "expired"
	// RedeemAlreadySpent means the token was redeemed before: a replay.
	RedeemAlreadySpent RedeemOutcome = "already_spent"
)

// Ledger is the server-side append-only token store.
// Interface owned by the domain per hexagonal architecture.
// At most one Redeem per token may return RedeemOK.
type Ledger interface {
	// Mint records a freshly issued token.
	Mint(ctx context.Context, t Token) error

	// Redeem atomically validates the token against the actual call and
	// flips it to spent. Any failure returns a distinct outcome.
	Redeem(ctx context.Context, tokenID, actionID, payloadHash string, now time.Time) (RedeemOutcome, error)

	// GC removes entries expired for longer than the grace period.
	// Returns the number of entries removed.
	GC(ctx context.Context, now time.Time) (int, error)
}
