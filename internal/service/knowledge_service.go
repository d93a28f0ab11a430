package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// KnowledgeService runs claim ingestion: it parses the policy packet,
// verifies candidate claims through the domain verifier, and persists
// accepted claims. Persistence is invoked through the side-effect gate
// by registering IngestHandler as the knowledge action's handler.
type KnowledgeService struct {
	verifier *knowledge.Verifier
	store    knowledge.ClaimStore
	logger   *slog.Logger
}

// NewKnowledgeService creates the ingestion service.
func NewKnowledgeService(retriever knowledge.ChunkRetriever, store knowledge.ClaimStore, logger *slog.Logger) *KnowledgeService {
	return &KnowledgeService{
		verifier: knowledge.NewVerifier(retriever, store, logger),
		store:    store,
		logger:   logger,
	}
}

// LoadPacket reads and validates a cpack from disk.
func (s *KnowledgeService) LoadPacket(path string) (*knowledge.Packet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy packet: %w", err)
	}
	return knowledge.ParsePacket(data)
}

// Ingest verifies claims against the packet and persists accepted ones.
// The returned denial, when non-nil, rejects the whole call.
func (s *KnowledgeService) Ingest(ctx context.Context, packet *knowledge.Packet, claims []knowledge.Claim, mode knowledge.Mode) (knowledge.Report, *knowledge.Denial, error) {
	report, callDenial, err := s.verifier.Verify(ctx, packet, claims, mode)
	if err != nil {
		return knowledge.Report{}, nil, err
	}
	if callDenial != nil {
		return knowledge.Report{}, callDenial, nil
	}

	for _, c := range report.Claims {
		if c.Status == knowledge.StatusDenied {
			continue
		}
		if conflicted(report, c) {
			// The stored claim wins; the arriving claim is recorded only
			// in the conflict list.
			continue
		}
		if err := s.store.Put(ctx, c); err != nil {
			s.logger.Warn("claim persist failed", "claim", c.ID, "error", err)
		}
	}
	return report, nil, nil
}

// IngestHandler adapts Ingest to the side-effect gate's handler
// contract so knowledge writes flow through the gate like every other
// side effect.
func (s *KnowledgeService) IngestHandler() func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		packet, claims, mode, err := decodeIngestPayload(payload)
		if err != nil {
			return nil, err
		}

		report, callDenial, err := s.Ingest(ctx, packet, claims, mode)
		if err != nil {
			return nil, err
		}
		if callDenial != nil {
			return map[string]interface{}{
				"denied": true,
				"reason": string(callDenial.Reason),
				"detail": callDenial.Detail,
			}, nil
		}

		out := map[string]interface{}{
			"grounded":   report.Grounded,
			"hypothesis": report.Hypothesis,
			"denied":     report.Denied,
			"conflicts":  report.Conflicts,
		}
		if len(report.Denials) > 0 {
			denials := make([]interface{}, 0, len(report.Denials))
			for _, d := range report.Denials {
				denials = append(denials, map[string]interface{}{
					"claim_id": d.ClaimID,
					"reason":   string(d.Reason),
					"detail":   d.Detail,
				})
			}
			out["denials"] = denials
		}
		return out, nil
	}
}

// decodeIngestPayload extracts the packet, claims, and mode from the
// sanitized request payload.
func decodeIngestPayload(payload map[string]interface{}) (*knowledge.Packet, []knowledge.Claim, knowledge.Mode, error) {
	rawPacket, ok := payload["packet"].(map[string]interface{})
	if !ok {
		return nil, nil, "", fmt.Errorf("%s: payload has no packet", reason.CPackMissing)
	}

	packet := &knowledge.Packet{}
	if v, ok := rawPacket["version"].(string); ok {
		packet.Version = v
	}
	packet.Chunks = stringSlice(rawPacket["chunks"])
	packet.RequireFetchFor = stringSlice(rawPacket["require_fetch_for"])

	modeStr, _ := payload["mode"].(string)
	if modeStr == "" {
		modeStr = string(knowledge.GroundOnly)
	}
	mode, err := knowledge.ParseMode(modeStr)
	if err != nil {
		return nil, nil, "", err
	}

	var claims []knowledge.Claim
	if rawClaims, ok := payload["claims"].([]interface{}); ok {
		for _, rc := range rawClaims {
			m, ok := rc.(map[string]interface{})
			if !ok {
				continue
			}
			c := knowledge.Claim{}
			c.ID, _ = m["claim_id"].(string)
			c.Type, _ = m["type"].(string)
			c.Text, _ = m["text"].(string)
			c.Key, _ = m["key"].(string)
			for _, id := range stringSlice(m["support"]) {
				c.Support = append(c.Support, knowledge.Support{ChunkID: id})
			}
			claims = append(claims, c)
		}
	}

	return packet, claims, mode, nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func conflicted(report knowledge.Report, c knowledge.Claim) bool {
	if c.Key == "" {
		return false
	}
	for _, conflict := range report.ConflictL {
		if conflict.Key == c.Key && conflict.Arriving == c.ID {
			return true
		}
	}
	return false
}
