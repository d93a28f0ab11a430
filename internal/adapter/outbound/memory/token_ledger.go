package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
)

// ErrDuplicateToken is returned when a token id is minted twice.
var ErrDuplicateToken = errors.New("token id already minted")

// ledgerEntry is one token record with its spent flag.
type ledgerEntry struct {
	token capability.Token
	spent bool
}

// TokenLedger implements capability.Ledger in memory.
// Redeem validates and flips the spent flag under one mutex, so at most
// one concurrent redeem of the same token can succeed.
type TokenLedger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
	grace   time.Duration
}

// NewTokenLedger creates an in-memory token ledger with the default
// GC grace period.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		entries: make(map[string]*ledgerEntry),
		grace:   capability.DefaultGCGrace,
	}
}

// Mint records a freshly issued token in state fresh.
func (l *TokenLedger) Mint(_ context.Context, t capability.Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[t.ID]; exists {
		return ErrDuplicateToken
	}
	l.entries[t.ID] = &ledgerEntry{token: t}
	return nil
}

// Redeem atomically validates and spends a token.
// Check order: existence, spent flag, expiry, action binding, payload
// binding. The spent check precedes expiry so a replay of a token that
// has since expired still reports already_spent.
func (l *TokenLedger) Redeem(_ context.Context, tokenID, actionID, payloadHash string, now time.Time) (capability.RedeemOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[tokenID]
	if !ok {
		return capability.RedeemTokenMissing, nil
	}
	if e.spent {
		return capability.RedeemAlreadySpent, nil
	}
	if now.After(e.token.ExpiresAt) {
		return capability.RedeemExpired, nil
	}
	if e.token.ActionID != actionID {
		return capability.RedeemActionMismatch, nil
	}
	if e.token.PayloadHash != payloadHash {
		return capability.RedeemPayloadMismatch, nil
	}

	e.spent = true
	return capability.RedeemOK, nil
}

// GC removes entries expired for longer than the grace period.
func (l *TokenLedger) GC(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		if now.After(e.token.ExpiresAt.Add(l.grace)) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of tracked tokens.
func (l *TokenLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Compile-time interface verification.
var _ capability.Ledger = (*TokenLedger)(nil)
