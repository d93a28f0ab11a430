package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// Denial records one rejected claim.
type Denial struct {
	ClaimID string      `json:"claim_id"`
	Reason  reason.Code `json:"reason"`
	Detail  string      `json:"detail,omitempty"`
}

// Conflict records a divergence between an arriving grounded claim and
// the stored claim under the same key.
type Conflict struct {
	Key      string `json:"key"`
	Existing string `json:"existing_claim_id"`
	Arriving string `json:"arriving_claim_id"`
}

// Report is the outcome of one ingestion.
type Report struct {
	Grounded   int        `json:"grounded"`
	Hypothesis int        `json:"hypothesis"`
	Denied     int        `json:"denied"`
	Conflicts  int        `json:"conflicts"`
	Claims     []Claim    `json:"claims"`
	Denials    []Denial   `json:"denials,omitempty"`
	ConflictL  []Conflict `json:"conflict_list,omitempty"`
	// FetchedChunks lists the chunk ids the runtime fetched this call.
	FetchedChunks []string `json:"fetched_chunks"`
}

// Verifier checks candidate claims against runtime-fetched chunks.
type Verifier struct {
	retriever ChunkRetriever
	store     ClaimStore
	logger    *slog.Logger
}

// NewVerifier creates a claim verifier.
func NewVerifier(retriever ChunkRetriever, store ClaimStore, logger *slog.Logger) *Verifier {
	return &Verifier{retriever: retriever, store: store, logger: logger}
}

// Verify runs one ingestion. A nil packet or structural failure denies
// the whole call; per-claim failures deny individual claims.
//
// Chunk text is data. The verifier reads chunk bodies only to record
// them; nothing in a chunk can change which branch runs.
func (v *Verifier) Verify(ctx context.Context, packet *Packet, claims []Claim, mode Mode) (Report, *Denial, error) {
	if packet == nil {
		return Report{}, &Denial{Reason: reason.CPackMissing, Detail: "no policy packet"}, nil
	}
	if err := packet.Validate(); err != nil {
		return Report{}, &Denial{Reason: reason.CPackMissing, Detail: err.Error()}, nil
	}

	// Fetch every declared chunk up front. The fetched set defines what
	// a claim may cite in this call.
	fetched := make(map[string]Chunk, len(packet.Chunks))
	for _, id := range packet.Chunks {
		chunk, err := v.retriever.Fetch(ctx, id)
		if err != nil {
			return Report{}, &Denial{
				Reason: reason.ChunkRetrieverUnavailable,
				Detail: fmt.Sprintf("chunk %q: %v", id, err),
			}, nil
		}
		fetched[id] = chunk
	}

	report := Report{FetchedChunks: packet.Chunks}

	for _, claim := range claims {
		if d := v.judge(ctx, packet, &claim, fetched, mode, &report); d != nil {
			claim.Status = StatusDenied
			report.Denied++
			report.Denials = append(report.Denials, *d)
		}
		report.Claims = append(report.Claims, claim)
	}

	report.Conflicts = len(report.ConflictL)
	return report, nil, nil
}

// judge assigns the claim's status, returning a denial when rejected.
// The claim is mutated in place on acceptance.
func (v *Verifier) judge(ctx context.Context, packet *Packet, claim *Claim, fetched map[string]Chunk, mode Mode, report *Report) *Denial {
	if len(claim.Support) == 0 {
		if packet.RequiresFetch(claim.Type) {
			return &Denial{
				ClaimID: claim.ID,
				Reason:  reason.TypeRequiresGrounding,
				Detail:  fmt.Sprintf("type %q requires fetched support", claim.Type),
			}
		}
		if mode == GroundOnly {
			return &Denial{
				ClaimID: claim.ID,
				Reason:  reason.NoSupportGroundOnlyMode,
				Detail:  "unsupported claim in ground_only mode",
			}
		}
		claim.Status = StatusHypothesis
		claim.Taint = TaintUntrusted
		report.Hypothesis++
		return nil
	}

	for _, s := range claim.Support {
		if _, ok := fetched[s.ChunkID]; !ok {
			return &Denial{
				ClaimID: claim.ID,
				Reason:  reason.UnfetchedChunks,
				Detail:  fmt.Sprintf("chunk %q was not fetched in this call", s.ChunkID),
			}
		}
	}

	claim.Status = StatusGrounded
	report.Grounded++

	if claim.Key != "" {
		v.checkConflict(ctx, claim, report)
	}
	return nil
}

// checkConflict compares the arriving grounded claim against the stored
// claim under the same key. The stored claim always wins.
func (v *Verifier) checkConflict(ctx context.Context, claim *Claim, report *Report) {
	existing, found, err := v.store.GetByKey(ctx, claim.Key)
	if err != nil {
		v.logger.Warn("claim store lookup failed", "key", claim.Key, "error", err)
		return
	}
	if !found {
		return
	}
	if normalizeText(existing.Text) != normalizeText(claim.Text) {
		report.ConflictL = append(report.ConflictL, Conflict{
			Key:      claim.Key,
			Existing: existing.ID,
			Arriving: claim.ID,
		})
	}
}

// normalizeText lowercases and collapses whitespace for comparison.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
