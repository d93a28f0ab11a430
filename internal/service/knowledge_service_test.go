package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/chunkfile"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/memory"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

func newKnowledgeService(store knowledge.ClaimStore) *KnowledgeService {
	if store == nil {
		store = memory.NewClaimStore()
	}
	return NewKnowledgeService(
		chunkfile.NewStatic(knowledge.Chunk{ID: "c1", Text: "Paris is the capital of France."}),
		store, testLogger())
}

func TestKnowledgeService_IngestPersistsAccepted(t *testing.T) {
	t.Parallel()

	store := memory.NewClaimStore()
	ks := newKnowledgeService(store)

	packet := &knowledge.Packet{Version: "1", Chunks: []string{"c1"}}
	claims := []knowledge.Claim{
		{
			ID:      "claim-1",
			Type:    "fact",
			Key:     "capital:fr",
			Text:    "Paris is the capital of France.",
			Support: []knowledge.Support{{ChunkID: "c1"}},
		},
		{
			ID:      "claim-2",
			Type:    "fact",
			Text:    "uncited",
			Support: []knowledge.Support{{ChunkID: "c999"}},
		},
	}

	report, denial, err := ks.Ingest(context.Background(), packet, claims, knowledge.GroundOnly)
	if err != nil || denial != nil {
		t.Fatalf("Ingest() err=%v denial=%+v", err, denial)
	}
	if report.Grounded != 1 || report.Denied != 1 {
		t.Errorf("grounded=%d denied=%d, want 1 and 1", report.Grounded, report.Denied)
	}

	// Only the grounded claim is stored.
	stored, found, err := store.GetByKey(context.Background(), "capital:fr")
	if err != nil || !found {
		t.Fatalf("GetByKey() = found=%v err=%v", found, err)
	}
	if stored.ID != "claim-1" || stored.Status != knowledge.StatusGrounded {
		t.Errorf("stored claim = %+v", stored)
	}
}

func TestKnowledgeService_ConflictKeepsStoredClaim(t *testing.T) {
	t.Parallel()

	store := memory.NewClaimStore()
	if err := store.Put(context.Background(), knowledge.Claim{
		ID:     "claim-old",
		Key:    "capital:fr",
		Text:   "Paris is the capital of France.",
		Status: knowledge.StatusGrounded,
	}); err != nil {
		t.Fatal(err)
	}
	ks := newKnowledgeService(store)

	packet := &knowledge.Packet{Version: "1", Chunks: []string{"c1"}}
	report, denial, err := ks.Ingest(context.Background(), packet, []knowledge.Claim{{
		ID:      "claim-new",
		Type:    "fact",
		Key:     "capital:fr",
		Text:    "Lyon is the capital of France.",
		Support: []knowledge.Support{{ChunkID: "c1"}},
	}}, knowledge.GroundOnly)
	if err != nil || denial != nil {
		t.Fatalf("Ingest() err=%v denial=%+v", err, denial)
	}
	if report.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", report.Conflicts)
	}

	stored, _, err := store.GetByKey(context.Background(), "capital:fr")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != "claim-old" {
		t.Errorf("stored claim = %q, want claim-old (stored claim wins)", stored.ID)
	}
}

func TestKnowledgeService_IngestHandler(t *testing.T) {
	t.Parallel()

	ks := newKnowledgeService(nil)
	handler := ks.IngestHandler()

	out, err := handler(context.Background(), map[string]interface{}{
		"packet": map[string]interface{}{
			"version": "1",
			"chunks":  []interface{}{"c1"},
		},
		"claims": []interface{}{
			map[string]interface{}{
				"claim_id": "claim-1",
				"type":     "fact",
				"text":     "Paris is the capital of France.",
				"support":  []interface{}{"c1"},
			},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if out["grounded"] != 1 || out["denied"] != 0 {
		t.Errorf("handler output = %v", out)
	}
}

func TestKnowledgeService_IngestHandlerMissingPacket(t *testing.T) {
	t.Parallel()

	ks := newKnowledgeService(nil)
	if _, err := ks.IngestHandler()(context.Background(), map[string]interface{}{
		"claims": []interface{}{},
	}); err == nil {
		t.Error("handler should fail without a packet")
	}
}

func TestKnowledgeService_IngestHandlerWholeCallDenial(t *testing.T) {
	t.Parallel()

	ks := newKnowledgeService(nil)
	out, err := ks.IngestHandler()(context.Background(), map[string]interface{}{
		"packet": map[string]interface{}{
			"version": "1",
			"chunks":  []interface{}{"c999"},
		},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if out["denied"] != true || out["reason"] != string(reason.ChunkRetrieverUnavailable) {
		t.Errorf("handler output = %v", out)
	}
}

func TestKnowledgeService_LoadPacket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "packet.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nchunks:\n  - c1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ks := newKnowledgeService(nil)
	packet, err := ks.LoadPacket(path)
	if err != nil {
		t.Fatalf("LoadPacket() error: %v", err)
	}
	if packet.Version != "1" || len(packet.Chunks) != 1 {
		t.Errorf("packet = %+v", packet)
	}

	if _, err := ks.LoadPacket(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadPacket of a missing file should fail")
	}
}
