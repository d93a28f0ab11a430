// Package knowledge implements grounded claim ingestion: candidate
// claims are verified against runtime-fetched chunks declared in a
// signed policy packet, and only claims whose every citation was
// actually fetched in the same call are accepted as grounded.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Ingestion modes.
type Mode string

const (
	// GroundOnly rejects any claim without fetched support.
	GroundOnly Mode = "ground_only"
	// GroundPlusHypothesis accepts unsupported claims as tainted
	// hypotheses instead of rejecting them.
	GroundPlusHypothesis Mode = "ground_plus_hypothesis"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case GroundOnly, GroundPlusHypothesis:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown ingestion mode %q", s)
	}
}

// Claim statuses.
const (
	StatusGrounded   = "grounded"
	StatusHypothesis = "hypothesis"
	StatusDenied     = "denied"
)

// TaintUntrusted marks hypothesis claims accepted without support.
const TaintUntrusted = "untrusted"

// Support cites a span inside a fetched chunk.
type Support struct {
	ChunkID string `json:"chunk_id" yaml:"chunk_id"`
	Span    string `json:"span,omitempty" yaml:"span,omitempty"`
}

// Claim is one candidate statement under verification.
type Claim struct {
	ID      string    `json:"claim_id" yaml:"claim_id"`
	Type    string    `json:"type" yaml:"type"`
	Text    string    `json:"text" yaml:"text"`
	Support []Support `json:"support,omitempty" yaml:"support,omitempty"`
	// Key, when set, makes the claim addressable: grounded claims with
	// the same key are compared and divergences recorded as conflicts.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
	// Status and Taint are assigned by the verifier.
	Status string `json:"status,omitempty" yaml:"-"`
	Taint  string `json:"taint,omitempty" yaml:"-"`
}

// Chunk is one runtime-fetched knowledge fragment. Its text is data:
// nothing inside it is ever interpreted as an instruction.
type Chunk struct {
	ID   string
	Text string
}

// Packet is the signed policy packet (cpack) governing one ingestion.
type Packet struct {
	Version string `yaml:"version"`
	// Chunks declares every chunk id the runtime must fetch.
	Chunks []string `yaml:"chunks"`
	// RequireFetchFor lists claim types that must carry fetched support.
	RequireFetchFor []string `yaml:"require_fetch_for"`
	// Signature is the packet's detached signature (base64).
	Signature string `yaml:"signature,omitempty"`
}

// Packet structure errors.
var (
	ErrPacketEmpty   = errors.New("policy packet is empty")
	ErrPacketVersion = errors.New("policy packet version missing")
	ErrPacketChunks  = errors.New("policy packet declares no chunks")
)

// ParsePacket decodes and structurally validates a YAML cpack.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrPacketEmpty
	}
	var p Packet
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy packet: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the packet's structure.
func (p *Packet) Validate() error {
	if p.Version == "" {
		return ErrPacketVersion
	}
	if len(p.Chunks) == 0 {
		return ErrPacketChunks
	}
	return nil
}

// RequiresFetch reports whether the claim type demands fetched support.
func (p *Packet) RequiresFetch(claimType string) bool {
	for _, t := range p.RequireFetchFor {
		if t == claimType {
			return true
		}
	}
	return false
}

// ChunkRetriever fetches declared chunks. Retrieval is runtime-owned;
// callers never supply chunk contents.
// Interface owned by the domain per hexagonal architecture.
type ChunkRetriever interface {
	Fetch(ctx context.Context, chunkID string) (Chunk, error)
}

// ClaimStore holds previously accepted grounded claims, keyed by claim
// key. Existing claims are never overwritten; divergent arrivals are
// recorded as conflicts.
type ClaimStore interface {
	// GetByKey returns the stored grounded claim for key, if any.
	GetByKey(ctx context.Context, key string) (Claim, bool, error)

	// Put stores an accepted claim. Put must refuse to replace an
	// existing grounded claim under the same key.
	Put(ctx context.Context, c Claim) error
}
