// Package sqlite provides a durable receipt chain backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

// ReceiptStore implements receipt.Chain on a SQLite database.
// Appends run under a process-local mutex in addition to the database
// transaction: the chain has a single writer by design, and the mutex
// keeps the tail read and insert atomic without relying on busy retries.
type ReceiptStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path and runs the migration.
func Open(path string) (*ReceiptStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open receipt database: %w", err)
	}
	// Serialized access keeps the single-writer invariant simple.
	db.SetMaxOpenConns(1)

	s := &ReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewReceiptStore wraps an already-open database, for tests that use
// an in-memory DSN.
func NewReceiptStore(db *sql.DB) (*ReceiptStore, error) {
	s := &ReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ReceiptStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		sequence INTEGER PRIMARY KEY,
		timestamp TEXT NOT NULL,
		job_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		action_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		reason_code TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		artifact_version TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		self_hash TEXT NOT NULL,
		payload_digest TEXT NOT NULL,
		notes JSON,
		request_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_job ON receipts(job_id, sequence);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying database.
func (s *ReceiptStore) Close() error {
	return s.db.Close()
}

// Append seals the receipt against the persisted tail and inserts it in
// one transaction. The insert committing is what acknowledges the append.
func (s *ReceiptStore) Append(ctx context.Context, r receipt.Receipt) (receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("%w: %v", receipt.ErrChainUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		nextSeq  uint64
		tailHash string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT sequence, self_hash FROM receipts ORDER BY sequence DESC LIMIT 1`)
	var lastSeq uint64
	switch err := row.Scan(&lastSeq, &tailHash); {
	case err == nil:
		nextSeq = lastSeq + 1
	case errors.Is(err, sql.ErrNoRows):
		nextSeq, tailHash = 0, ""
	default:
		return receipt.Receipt{}, fmt.Errorf("read chain tail: %w", err)
	}

	sealed, err := receipt.Seal(r, nextSeq, tailHash)
	if err != nil {
		return receipt.Receipt{}, err
	}

	notesJSON, err := json.Marshal(sealed.Notes)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("encode notes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO receipts (
		sequence, timestamp, job_id, stage, action_id, decision, reason_code,
		policy_id, artifact_id, artifact_version, previous_hash, self_hash,
		payload_digest, notes, request_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sealed.Sequence,
		sealed.Timestamp.UTC().Format(time.RFC3339Nano),
		sealed.JobID,
		sealed.Stage,
		sealed.ActionID,
		sealed.Decision,
		string(sealed.ReasonCode),
		sealed.PolicyID,
		sealed.ArtifactID,
		sealed.ArtifactVersion,
		sealed.PreviousHash,
		sealed.SelfHash,
		sealed.PayloadDigest,
		string(notesJSON),
		sealed.RequestID,
	)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return receipt.Receipt{}, fmt.Errorf("commit receipt: %w", err)
	}
	return sealed, nil
}

const selectColumns = `sequence, timestamp, job_id, stage, action_id, decision,
	reason_code, policy_id, artifact_id, artifact_version, previous_hash,
	self_hash, payload_digest, notes, request_id`

// ReadByJob returns all receipts for a job in sequence order.
func (s *ReceiptStore) ReadByJob(ctx context.Context, jobID string) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM receipts WHERE job_id = ? ORDER BY sequence`, jobID)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// ReadRange returns up to limit receipts starting at fromSequence.
func (s *ReceiptStore) ReadRange(ctx context.Context, fromSequence uint64, limit int) ([]receipt.Receipt, error) {
	query := `SELECT ` + selectColumns + ` FROM receipts WHERE sequence >= ? ORDER BY sequence`
	args := []any{fromSequence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// Len returns the number of persisted receipts.
func (s *ReceiptStore) Len(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&n)
	return n, err
}

func collectRows(rows *sql.Rows) ([]receipt.Receipt, error) {
	defer func() { _ = rows.Close() }()

	var out []receipt.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReceipt(rows *sql.Rows) (receipt.Receipt, error) {
	var (
		r          receipt.Receipt
		timestamp  string
		reasonText string
		notesJSON  sql.NullString
	)
	err := rows.Scan(
		&r.Sequence, &timestamp, &r.JobID, &r.Stage, &r.ActionID, &r.Decision,
		&reasonText, &r.PolicyID, &r.ArtifactID, &r.ArtifactVersion,
		&r.PreviousHash, &r.SelfHash, &r.PayloadDigest, &notesJSON, &r.RequestID,
	)
	if err != nil {
		return receipt.Receipt{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("parse receipt timestamp: %w", err)
	}
	r.Timestamp = ts
	r.ReasonCode = reason.Code(reasonText)

	if notesJSON.Valid && notesJSON.String != "" && notesJSON.String != "null" {
		if err := json.Unmarshal([]byte(notesJSON.String), &r.Notes); err != nil {
			return receipt.Receipt{}, fmt.Errorf("decode receipt notes: %w", err)
		}
	}
	return r, nil
}

// Compile-time interface verification.
var _ receipt.Chain = (*ReceiptStore)(nil)
