package gate

import (
	"context"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
)

// IdempotencyRecord is one stored execution result, keyed by the
// (endpoint, caller key) pair. The payload digest is stored alongside
// the key, not inside it, so reusing a key with a different payload
// lands on the stored record and is rejected as a conflict.
type IdempotencyRecord struct {
	// Key is the derived lookup key.
	Key uint64
	// PayloadDigest guards against key reuse with a different payload.
	PayloadDigest string
	// Response is the stored handler output returned on replay.
	Response map[string]interface{}
	// StoredAt is when the record was written.
	StoredAt time.Time
}

// IdempotencyStore persists execution results for replay.
// Interface owned by the domain per hexagonal architecture.
type IdempotencyStore interface {
	// Get returns the record for key, and whether it exists.
	Get(ctx context.Context, key uint64) (IdempotencyRecord, bool, error)

	// Put stores a record. Writing an existing key overwrites it; the
	// gate only writes after a successful execution.
	Put(ctx context.Context, rec IdempotencyRecord) error
}

// IdempotencyKeyFor derives the lookup key from the endpoint and the
// caller-supplied key. The payload digest deliberately stays out of
// the derivation: a divergent payload must collide with the stored
// record so the gate can deny it.
func IdempotencyKeyFor(endpoint, callerKey string) uint64 {
	return canon.CacheKey("idem", endpoint, callerKey)
}
