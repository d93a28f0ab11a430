package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

func testReceipt(jobID, stage string) receipt.Receipt {
	return receipt.Receipt{
		Timestamp:       time.Now().UTC(),
		JobID:           jobID,
		Stage:           stage,
		ActionID:        "action:job:run",
		Decision:        receipt.DecisionAllow,
		ArtifactID:      "test-artifact",
		ArtifactVersion: "1.0.0",
	}
}

func TestReceiptStore_AppendLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewReceiptStore()

	first, err := store.Append(ctx, testReceipt("job-1", "cif.ingress"))
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	second, err := store.Append(ctx, testReceipt("job-1", "cdi.decide"))
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 0, 1", first.Sequence, second.Sequence)
	}
	if second.PreviousHash != first.SelfHash {
		t.Error("second receipt should link to the first's self hash")
	}

	brk, err := receipt.ValidateChain(ctx, store)
	if err != nil {
		t.Fatalf("ValidateChain() error: %v", err)
	}
	if brk != nil {
		t.Errorf("chain reported break: %v", brk)
	}
}

func TestReceiptStore_ReadByJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewReceiptStore()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, testReceipt("job-a", "cdi.decide")); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	if _, err := store.Append(ctx, testReceipt("job-b", "cdi.decide")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got, err := store.ReadByJob(ctx, "job-a")
	if err != nil {
		t.Fatalf("ReadByJob() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadByJob() returned %d receipts, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Error("ReadByJob() receipts out of sequence order")
		}
	}
}

func TestReceiptStore_ReadRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewReceiptStore()
	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, testReceipt("job-1", "cdi.decide")); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	page, err := store.ReadRange(ctx, 4, 3)
	if err != nil {
		t.Fatalf("ReadRange() error: %v", err)
	}
	if len(page) != 3 || page[0].Sequence != 4 {
		t.Errorf("ReadRange(4, 3) = %d receipts starting at %d", len(page), page[0].Sequence)
	}

	all, err := store.ReadRange(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ReadRange() error: %v", err)
	}
	if len(all) != 10 {
		t.Errorf("ReadRange(0, 0) = %d receipts, want 10", len(all))
	}

	empty, err := store.ReadRange(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ReadRange() error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ReadRange past end = %d receipts, want 0", len(empty))
	}
}

func TestReceiptStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewReceiptStore()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				job := fmt.Sprintf("job-%d", w)
				if _, err := store.Append(ctx, testReceipt(job, "cdi.decide")); err != nil {
					t.Errorf("Append() error: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := store.Len(ctx)
	if err != nil {
		t.Fatalf("Len() error: %v", err)
	}
	if n != writers*perWriter {
		t.Errorf("Len() = %d, want %d", n, writers*perWriter)
	}

	brk, err := receipt.ValidateChain(ctx, store)
	if err != nil {
		t.Fatalf("ValidateChain() error: %v", err)
	}
	if brk != nil {
		t.Errorf("chain broken after concurrent appends: %v", brk)
	}
}
