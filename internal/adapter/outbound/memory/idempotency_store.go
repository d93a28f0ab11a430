package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/gate"
)

// DefaultIdempotencyTTL is how long stored responses stay replayable.
const DefaultIdempotencyTTL = time.Hour

// IdempotencyStore implements gate.IdempotencyStore in memory with a
// TTL-based sweep, following the same cleanup pattern as the rate
// limiter.
type IdempotencyStore struct {
	mu       sync.RWMutex
	records  map[uint64]gate.IdempotencyRecord
	ttl      time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewIdempotencyStore creates an in-memory idempotency store.
// A ttl of 0 uses the default.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{
		records:  make(map[uint64]gate.IdempotencyRecord),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
}

// Get returns the record for key if present and not expired.
func (s *IdempotencyStore) Get(_ context.Context, key uint64) (gate.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return gate.IdempotencyRecord{}, false, nil
	}
	if time.Since(rec.StoredAt) > s.ttl {
		return gate.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

// Put stores a record.
func (s *IdempotencyStore) Put(_ context.Context, rec gate.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

// StartCleanup launches the background sweep goroutine. It stops when
// the context is cancelled or Stop is called.
func (s *IdempotencyStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.ttl / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired records.
func (s *IdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, rec := range s.records {
		if now.Sub(rec.StoredAt) > s.ttl {
			delete(s.records, key)
		}
	}
}

// Stop terminates the cleanup goroutine and waits for it to exit.
func (s *IdempotencyStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of stored records.
func (s *IdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Compile-time interface verification.
var _ gate.IdempotencyStore = (*IdempotencyStore)(nil)
