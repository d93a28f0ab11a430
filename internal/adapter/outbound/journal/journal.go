// Package journal provides a file-backed receipt chain in JSON Lines
// format. The file is guarded by an exclusive OS lock so at most one
// process writes the chain.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

// ReceiptJournal implements receipt.Chain on a single append-only JSONL
// file. On open the existing file is replayed to recover the tail; each
// append is written and synced before returning.
type ReceiptJournal struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	nextSeq  uint64
	tailHash string
	byJob    map[string][]int64
	offsets  []int64
	logger   *slog.Logger
	closed   bool
}

// Open opens (or creates) the journal at path, takes the exclusive file
// lock, and replays existing receipts to recover the chain tail.
func Open(path string, logger *slog.Logger) (*ReceiptJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := flockLock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock journal: %w", err)
	}

	j := &ReceiptJournal{
		path:   path,
		file:   f,
		byJob:  make(map[string][]int64),
		logger: logger,
	}
	if err := j.replay(); err != nil {
		_ = flockUnlock(f.Fd())
		_ = f.Close()
		return nil, err
	}
	return j, nil
}

// replay scans the file, recording line offsets and the chain tail.
// A torn trailing line (crash mid-write) is truncated away.
func (j *ReceiptJournal) replay() error {
	if _, err := j.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek journal: %w", err)
	}

	var offset, goodEnd int64
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1

		var r receipt.Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			j.logger.Warn("journal replay: truncating torn tail line",
				"offset", offset, "error", err)
			break
		}

		j.offsets = append(j.offsets, offset)
		j.byJob[r.JobID] = append(j.byJob[r.JobID], offset)
		j.nextSeq = r.Sequence + 1
		j.tailHash = r.SelfHash

		offset += lineLen
		goodEnd = offset
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}

	if err := j.file.Truncate(goodEnd); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	if _, err := j.file.Seek(goodEnd, 0); err != nil {
		return fmt.Errorf("seek journal end: %w", err)
	}
	return nil
}

// Append seals the receipt against the recovered tail, writes the JSON
// line, and syncs before acknowledging.
func (j *ReceiptJournal) Append(_ context.Context, r receipt.Receipt) (receipt.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return receipt.Receipt{}, receipt.ErrChainUnavailable
	}

	sealed, err := receipt.Seal(r, j.nextSeq, j.tailHash)
	if err != nil {
		return receipt.Receipt{}, err
	}

	data, err := json.Marshal(sealed)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("marshal receipt: %w", err)
	}

	offset, err := j.file.Seek(0, 1)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("journal position: %w", err)
	}

	line := append(data, '\n')
	if _, err := j.file.Write(line); err != nil {
		return receipt.Receipt{}, fmt.Errorf("write receipt: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return receipt.Receipt{}, fmt.Errorf("sync journal: %w", err)
	}

	j.offsets = append(j.offsets, offset)
	j.byJob[sealed.JobID] = append(j.byJob[sealed.JobID], offset)
	j.nextSeq = sealed.Sequence + 1
	j.tailHash = sealed.SelfHash
	return sealed, nil
}

// ReadByJob returns all receipts for a job in sequence order.
func (j *ReceiptJournal) ReadByJob(_ context.Context, jobID string) ([]receipt.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.readOffsetsLocked(j.byJob[jobID])
}

// ReadRange returns up to limit receipts starting at fromSequence.
func (j *ReceiptJournal) ReadRange(_ context.Context, fromSequence uint64, limit int) ([]receipt.Receipt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if fromSequence >= uint64(len(j.offsets)) {
		return nil, nil
	}
	offsets := j.offsets[fromSequence:]
	if limit > 0 && limit < len(offsets) {
		offsets = offsets[:limit]
	}
	return j.readOffsetsLocked(offsets)
}

// Len returns the number of persisted receipts.
func (j *ReceiptJournal) Len(_ context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.offsets)), nil
}

// readOffsetsLocked reads one receipt per offset. Must be called with
// j.mu held; the write position is restored afterwards.
func (j *ReceiptJournal) readOffsetsLocked(offsets []int64) ([]receipt.Receipt, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	if j.closed {
		return nil, receipt.ErrChainUnavailable
	}

	writePos, err := j.file.Seek(0, 1)
	if err != nil {
		return nil, fmt.Errorf("journal position: %w", err)
	}
	defer func() { _, _ = j.file.Seek(writePos, 0) }()

	out := make([]receipt.Receipt, 0, len(offsets))
	for _, off := range offsets {
		if _, err := j.file.Seek(off, 0); err != nil {
			return nil, fmt.Errorf("seek receipt at %d: %w", off, err)
		}
		reader := bufio.NewReader(j.file)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read receipt at %d: %w", off, err)
		}
		var r receipt.Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode receipt at %d: %w", off, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Close syncs, releases the file lock, and closes the journal.
func (j *ReceiptJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	_ = j.file.Sync()
	_ = flockUnlock(j.file.Fd())
	err := j.file.Close()
	j.file = nil
	return err
}

// Compile-time interface verification.
var _ receipt.Chain = (*ReceiptJournal)(nil)
