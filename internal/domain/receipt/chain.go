package receipt

import (
	"context"
	"errors"
	"fmt"
)

// ErrChainUnavailable is returned when the backing store cannot be reached.
var ErrChainUnavailable = errors.New("receipt chain unavailable")

// Chain is the append-only receipt store.
// Interface owned by the domain per hexagonal architecture.
// Append seals the receipt (sequence, previous hash, self hash) and
// persists it before returning; sequences are strict with no gaps.
type Chain interface {
	// Append seals and persists a receipt, returning the sealed record.
	Append(ctx context.Context, r Receipt) (Receipt, error)

	// ReadByJob returns all receipts for a job in sequence order.
	ReadByJob(ctx context.Context, jobID string) ([]Receipt, error)

	// ReadRange returns up to limit receipts starting at fromSequence,
	// in sequence order. A limit of 0 means no limit.
	ReadRange(ctx context.Context, fromSequence uint64, limit int) ([]Receipt, error)

	// Len returns the number of persisted receipts.
	Len(ctx context.Context) (uint64, error)
}

// Break describes the first point at which chain validation failed.
type Break struct {
	// Sequence is the sequence number of the offending receipt.
	Sequence uint64
	// Detail explains what did not verify.
	Detail string
}

func (b *Break) Error() string {
	return fmt.Sprintf("chain break at sequence %d: %s", b.Sequence, b.Detail)
}

// validatePageSize bounds memory used by a single validation read.
const validatePageSize = 512

// ValidateChain walks the whole chain re-deriving every hash.
// It returns (nil, nil) for an intact chain, a *Break for the first
// receipt that fails verification, and a non-nil error only when the
// store itself fails.
func ValidateChain(ctx context.Context, c Chain) (*Break, error) {
	var (
		next     uint64
		prevHash string
	)
	for {
		page, err := c.ReadRange(ctx, next, validatePageSize)
		if err != nil {
			return nil, fmt.Errorf("read receipts from %d: %w", next, err)
		}
		if len(page) == 0 {
			return nil, nil
		}
		for _, r := range page {
			if r.Sequence != next {
				return &Break{Sequence: r.Sequence,
					Detail: fmt.Sprintf("sequence gap: expected %d", next)}, nil
			}
			if !Verify(r, prevHash) {
				return &Break{Sequence: r.Sequence, Detail: "hash link does not verify"}, nil
			}
			prevHash = r.SelfHash
			next++
		}
	}
}
