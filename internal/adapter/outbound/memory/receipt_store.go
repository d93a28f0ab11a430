package memory

import (
	"context"
	"sync"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

// ReceiptStore implements receipt.Chain in memory. Appends are
// serialized under one mutex so sequences are strict and the tail hash
// never races.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts []receipt.Receipt
	byJob    map[string][]int
	tailHash string
}

// NewReceiptStore creates an empty in-memory receipt chain.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		byJob: make(map[string][]int),
	}
}

// Append seals the receipt against the current tail and persists it.
func (s *ReceiptStore) Append(_ context.Context, r receipt.Receipt) (receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := receipt.Seal(r, uint64(len(s.receipts)), s.tailHash)
	if err != nil {
		return receipt.Receipt{}, err
	}

	s.byJob[sealed.JobID] = append(s.byJob[sealed.JobID], len(s.receipts))
	s.receipts = append(s.receipts, sealed)
	s.tailHash = sealed.SelfHash
	return sealed, nil
}

// ReadByJob returns all receipts for a job in sequence order.
func (s *ReceiptStore) ReadByJob(_ context.Context, jobID string) ([]receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.byJob[jobID]
	out := make([]receipt.Receipt, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, s.receipts[i])
	}
	return out, nil
}

// ReadRange returns up to limit receipts starting at fromSequence.
func (s *ReceiptStore) ReadRange(_ context.Context, fromSequence uint64, limit int) ([]receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if fromSequence >= uint64(len(s.receipts)) {
		return nil, nil
	}
	rest := s.receipts[fromSequence:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]receipt.Receipt, len(rest))
	copy(out, rest)
	return out, nil
}

// Len returns the number of persisted receipts.
func (s *ReceiptStore) Len(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.receipts)), nil
}

// Compile-time interface verification.
var _ receipt.Chain = (*ReceiptStore)(nil)
