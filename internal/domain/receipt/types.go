// Package receipt defines the hash-linked governance receipt and the
// append-only chain it lives in. Every verdict the pipeline reaches —
// allow or deny — produces exactly one receipt; the chain is the audit
// log of record.
package receipt

import (
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// Decision values for receipts.
const (
	// DecisionAllow indicates the governed operation was permitted.
	DecisionAllow = "allow"
	// DecisionDeny indicates the operation was blocked.
	DecisionDeny = "deny"
	// DecisionTransform indicates the operation was permitted with a
	// modified (redacted) payload.
	DecisionTransform = "transform"
)

// SystemJobID attributes a receipt to the runtime itself rather than a job.
const SystemJobID = "system"

// Receipt is one chained governance record.
type Receipt struct {
	// Sequence is the strict append order, starting at 0.
	Sequence uint64 `json:"sequence"`
	// Timestamp is when the receipt was sealed.
	Timestamp time.Time `json:"timestamp"`
	// JobID ties the receipt to a job, or SystemJobID for runtime events.
	JobID string `json:"job_id"`
	// Stage names the pipeline stage that produced the verdict.
	Stage string `json:"stage"`
	// ActionID is the canonical action this receipt covers.
	ActionID string `json:"action_id"`
	// Decision is allow, deny, or transform.
	Decision string `json:"decision"`
	// ReasonCode is the stable governance reason code.
	ReasonCode reason.Code `json:"reason_code"`
	// PolicyID names the policy rule or gate that decided.
	PolicyID string `json:"policy_id"`
	// ArtifactID and ArtifactVersion attribute the decision to the
	// loaded policy artifact.
	ArtifactID      string `json:"artifact_id"`
	ArtifactVersion string `json:"artifact_version"`
	// PreviousHash links to the prior receipt's SelfHash ("" for the first).
	PreviousHash string `json:"previous_hash"`
	// SelfHash is sha256(previous_hash || canonical(receipt without self_hash)).
	SelfHash string `json:"self_hash"`
	// PayloadDigest is the sha256 of the payload the verdict covered.
	PayloadDigest string `json:"payload_digest"`
	// Notes carries stage detail and the request proof summary.
	Notes map[string]interface{} `json:"notes,omitempty"`
	// RequestID correlates the receipt with the originating request.
	RequestID string `json:"request_id,omitempty"`
}

// sealView is the receipt without its self hash, used as the canonical
// hashing input.
type sealView struct {
	Sequence        uint64                 `json:"sequence"`
	Timestamp       string                 `json:"timestamp"`
	JobID           string                 `json:"job_id"`
	Stage           string                 `json:"stage"`
	ActionID        string                 `json:"action_id"`
	Decision        string                 `json:"decision"`
	ReasonCode      string                 `json:"reason_code"`
	PolicyID        string                 `json:"policy_id"`
	ArtifactID      string                 `json:"artifact_id"`
	ArtifactVersion string                 `json:"artifact_version"`
	PreviousHash    string                 `json:"previous_hash"`
	PayloadDigest   string                 `json:"payload_digest"`
	Notes           map[string]interface{} `json:"notes,omitempty"`
	RequestID       string                 `json:"request_id,omitempty"`
}

// Seal assigns the chain position and computes the self hash.
// Callers (stores) must serialize Seal+persist so sequences are strict.
func Seal(r Receipt, sequence uint64, previousHash string) (Receipt, error) {
	r.Sequence = sequence
	r.PreviousHash = previousHash

	canonical, err := canonicalBytes(r)
	if err != nil {
		return Receipt{}, err
	}
	r.SelfHash = canon.ChainHash(previousHash, canonical)
	return r, nil
}

// Verify recomputes the self hash and checks the chain link against the
// previous receipt's self hash ("" for the genesis receipt).
func Verify(r Receipt, previousSelfHash string) bool {
	if r.PreviousHash != previousSelfHash {
		return false
	}
	canonical, err := canonicalBytes(r)
	if err != nil {
		return false
	}
	return canon.ChainHash(r.PreviousHash, canonical) == r.SelfHash
}

// canonicalBytes returns the JCS canonical encoding of the receipt
// without its self hash. Timestamps are fixed to RFC3339Nano UTC so the
// bytes do not depend on the process time zone.
func canonicalBytes(r Receipt) ([]byte, error) {
	view := sealView{
		Sequence:        r.Sequence,
		Timestamp:       r.Timestamp.UTC().Format(time.RFC3339Nano),
		JobID:           r.JobID,
		Stage:           r.Stage,
		ActionID:        r.ActionID,
		Decision:        r.Decision,
		ReasonCode:      string(r.ReasonCode),
		PolicyID:        r.PolicyID,
		ArtifactID:      r.ArtifactID,
		ArtifactVersion: r.ArtifactVersion,
		PreviousHash:    r.PreviousHash,
		PayloadDigest:   r.PayloadDigest,
		Notes:           r.Notes,
		RequestID:       r.RequestID,
	}
	return canon.Canonicalize(view)
}
