package proof

import (
	"testing"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

func TestAssembler_SealedTranscript(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAssembler("req-1", "worker-1", "action:job:run", started)
	a.SetJobID("job-1")

	in := map[string]interface{}{"job": "build"}
	a.Record(StageIngress, in, in, true, "", "")
	a.Record(StageDecision, in, in, true, "", "cap:jobs")
	a.Record(StageGate, in, map[string]interface{}{"done": true}, true, "", "")

	p, err := a.Seal("allow", "")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if p.RequestID != "req-1" || p.JobID != "job-1" || p.ActionID != "action:job:run" {
		t.Errorf("identity fields = %s/%s/%s", p.RequestID, p.JobID, p.ActionID)
	}
	if len(p.Entries) != 3 {
		t.Fatalf("Entries = %d, want 3", len(p.Entries))
	}
	wantStages := []string{StageIngress, StageDecision, StageGate}
	for i, want := range wantStages {
		if p.Entries[i].Stage != want {
			t.Errorf("entry %d stage = %q, want %q", i, p.Entries[i].Stage, want)
		}
	}
	if p.Final != "allow" || p.FinalReason != "" {
		t.Errorf("final = %q/%q", p.Final, p.FinalReason)
	}
	if len(p.Hash) != 64 {
		t.Errorf("Hash = %q, want 64 hex chars", p.Hash)
	}

	// Stage digests are present for hashable payloads.
	if p.Entries[0].InputDigest == "" || p.Entries[2].OutputDigest == "" {
		t.Error("stage digests should be recorded")
	}
	if p.Entries[2].InputDigest == p.Entries[2].OutputDigest {
		t.Error("distinct payloads should produce distinct digests")
	}
}

func TestAssembler_DenialCarriesReason(t *testing.T) {
	t.Parallel()

	a := NewAssembler("req-2", "attacker-1", "action:job:run", time.Now())
	a.Record(StageIngress, map[string]interface{}{"job": "eval(x)"}, nil,
		false, reason.CIFQuarantined, "Suspicious pattern detected")

	p, err := a.Seal("deny", reason.CIFQuarantined)
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if p.Final != "deny" {
		t.Errorf("Final = %q, want deny", p.Final)
	}
	if p.FinalReason != string(reason.CIFQuarantined) {
		t.Errorf("FinalReason = %q, want %s", p.FinalReason, reason.CIFQuarantined)
	}
	if p.Entries[0].ReasonCode != string(reason.CIFQuarantined) {
		t.Errorf("entry reason = %q", p.Entries[0].ReasonCode)
	}
	if p.Entries[0].OutputDigest != "" {
		t.Error("nil output should leave the digest empty")
	}
}

func TestAssembler_HashDeterministic(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	build := func() Proof {
		a := NewAssembler("req-3", "worker-1", "action:memory:query", started)
		a.Record(StageIngress, map[string]interface{}{"type": "note"}, map[string]interface{}{"type": "note"}, true, "", "")
		p, err := a.Seal("allow", "")
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		return p
	}

	if a, b := build(), build(); a.Hash != b.Hash {
		t.Errorf("identical transcripts hashed differently: %s vs %s", a.Hash, b.Hash)
	}

	// Any transcript difference changes the hash.
	a := NewAssembler("req-3", "worker-1", "action:memory:query", started)
	a.Record(StageIngress, map[string]interface{}{"type": "other"}, nil, true, "", "")
	p, err := a.Seal("allow", "")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if p.Hash == build().Hash {
		t.Error("different transcripts should hash differently")
	}
}

func TestProof_Summary(t *testing.T) {
	t.Parallel()

	a := NewAssembler("req-4", "worker-1", "action:health:check", time.Now())
	a.Record(StageIngress, nil, nil, true, "", "")
	a.Record(StageDecision, nil, nil, true, "", "")
	p, err := a.Seal("allow", "")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	s := p.Summary()
	if s["proof_hash"] != p.Hash || s["final"] != "allow" {
		t.Errorf("Summary() = %v", s)
	}
	stages := s["stages"].([]string)
	if len(stages) != 2 || stages[0] != StageIngress || stages[1] != StageDecision {
		t.Errorf("stages = %v", stages)
	}
}
