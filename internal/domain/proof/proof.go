// Package proof assembles per-request governance proofs: an ordered
// transcript of every pipeline stage a request passed through, with
// input and output digests and the stage's sub-verdict, sealed by a
// single hash over the canonical transcript.
package proof

import (
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// Stage names used in proofs and receipts.
const (
	StageIngress   = "cif.ingress"
	StageDecision  = "cdi.decide"
	StageGate      = "gate.execute"
	StageOutput    = "cdi.output"
	StageEgress    = "cif.egress"
	StageHeartbeat = "heartbeat"
	StageKnowledge = "knowledge.verify"
	StageDispatch  = "dispatch"
)

// Entry is one stage's record in the transcript.
type Entry struct {
	// Stage is the pipeline stage name.
	Stage string `json:"stage"`
	// InputDigest and OutputDigest are sha256 hex digests of the
	// payload entering and leaving the stage.
	InputDigest  string `json:"input_digest"`
	OutputDigest string `json:"output_digest"`
	// Allowed is the stage's sub-verdict.
	Allowed bool `json:"allowed"`
	// ReasonCode is set when the stage denied or transformed.
	ReasonCode string `json:"reason_code,omitempty"`
	// Detail is a short stage-specific note.
	Detail string `json:"detail,omitempty"`
}

// Proof is the sealed transcript for one request.
type Proof struct {
	// RequestID correlates the proof with the request and its receipts.
	RequestID string `json:"request_id"`
	// JobID is the job the request executed as, if any.
	JobID string `json:"job_id,omitempty"`
	// ActionID is the canonical action requested.
	ActionID string `json:"action_id"`
	// Actor is the requesting identity.
	Actor string `json:"actor"`
	// StartedAt is when the pipeline accepted the request.
	StartedAt time.Time `json:"started_at"`
	// Entries is the ordered stage transcript.
	Entries []Entry `json:"entries"`
	// Final is the end-to-end verdict.
	Final string `json:"final"`
	// FinalReason is the reason code when the final verdict is a denial.
	FinalReason string `json:"final_reason,omitempty"`
	// Hash seals the transcript.
	Hash string `json:"hash"`
}

// Assembler accumulates stage entries for one request.
// Not safe for concurrent use; one assembler serves one request.
type Assembler struct {
	proof Proof
}

// NewAssembler starts a transcript for a request.
func NewAssembler(requestID, actor, actionID string, startedAt time.Time) *Assembler {
	return &Assembler{proof: Proof{
		RequestID: requestID,
		Actor:     actor,
		ActionID:  actionID,
		StartedAt: startedAt,
	}}
}

// SetJobID records the job the request executed as.
func (a *Assembler) SetJobID(jobID string) {
	a.proof.JobID = jobID
}

// Record appends a stage entry. Digests of unhashable payloads are
// recorded as empty rather than failing the transcript.
func (a *Assembler) Record(stage string, input, output interface{}, allowed bool, code reason.Code, detail string) {
	entry := Entry{
		Stage:   stage,
		Allowed: allowed,
		Detail:  detail,
	}
	if code != "" {
		entry.ReasonCode = string(code)
	}
	if input != nil {
		if d, err := canon.Digest(input); err == nil {
			entry.InputDigest = d
		}
	}
	if output != nil {
		if d, err := canon.Digest(output); err == nil {
			entry.OutputDigest = d
		}
	}
	a.proof.Entries = append(a.proof.Entries, entry)
}

// Seal fixes the final verdict and computes the transcript hash.
// The hash covers every field except the hash itself.
func (a *Assembler) Seal(final string, finalReason reason.Code) (Proof, error) {
	a.proof.Final = final
	if finalReason != "" {
		a.proof.FinalReason = string(finalReason)
	}

	view := a.proof
	view.Hash = ""
	view.StartedAt = view.StartedAt.UTC()

	digest, err := canon.Digest(view)
	if err != nil {
		return Proof{}, err
	}
	a.proof.Hash = digest
	return a.proof, nil
}

// Summary returns the compact note map carried in receipts.
func (p Proof) Summary() map[string]interface{} {
	stages := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		stages = append(stages, e.Stage)
	}
	return map[string]interface{}{
		"proof_hash": p.Hash,
		"stages":     stages,
		"final":      p.Final,
	}
}
