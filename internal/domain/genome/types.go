// Package genome defines the signed policy artifact: the root of trust
// for every governance decision. The artifact is immutable after load;
// amendments require re-signing by a quorum of declared signers.
package genome

// SchemaVersion is the only artifact schema this build understands.
const SchemaVersion = "1"

// Posture selects how strictly the artifact is verified at load.
type Posture string

const (
	// PostureDevelopment skips build-manifest verification.
	PostureDevelopment Posture = "development"
	// PostureProduction verifies every manifest entry against disk.
	PostureProduction Posture = "production"
)

// Signer declares an authorized artifact signer.
type Signer struct {
	// KeyID identifies the signing key.
	KeyID string `json:"key_id"`
	// PublicKey is the hex-encoded ed25519 public key.
	PublicKey string `json:"public_key"`
}

// Signature is one detached signature over the canonical artifact bytes.
type Signature struct {
	// KeyID names the signer that produced this signature.
	KeyID string `json:"key_id"`
	// Signature is the base64-encoded ed25519 signature.
	Signature string `json:"signature"`
}

// Invariant is a treaty claim the runtime must uphold.
type Invariant struct {
	// ID is the stable invariant identifier.
	ID string `json:"id"`
	// Severity is "critical", "high", or "advisory".
	Severity string `json:"severity"`
	// Claim is the human-readable statement of the invariant.
	Claim string `json:"claim"`
}

// Capability grants a set of actions, optionally under a condition.
type Capability struct {
	// ID is the capability identifier.
	ID string `json:"id"`
	// RiskClass categorizes the capability (low, medium, high).
	RiskClass string `json:"risk_class"`
	// Allow lists canonical action ids this capability grants.
	Allow []string `json:"allow"`
	// Deny lists action ids excluded even if matched by Allow.
	Deny []string `json:"deny,omitempty"`
	// When is an optional CEL expression over the action context.
	// An empty expression grants unconditionally.
	When string `json:"when,omitempty"`
}

// Artifact is the signed, versioned policy bundle.
type Artifact struct {
	// Schema is the artifact schema version.
	Schema string `json:"schema"`
	// Name is the artifact name.
	Name string `json:"name"`
	// Version is the artifact semantic version.
	Version string `json:"version"`
	// Signers are the authorized signing keys.
	Signers []Signer `json:"signers"`
	// Threshold is the number of valid signatures required.
	Threshold int `json:"threshold"`
	// Invariants are the treaty claims.
	Invariants []Invariant `json:"invariants"`
	// Capabilities are the action grants.
	Capabilities []Capability `json:"capabilities"`
	// BuildManifest maps repository-relative file paths to sha256 hex digests.
	BuildManifest map[string]string `json:"build_manifest"`
	// Signatures is the detached signature block. It is excluded from
	// the canonical signing bytes.
	Signatures []Signature `json:"signatures"`
}

// ID returns the artifact identity used for receipt attribution.
func (a *Artifact) ID() string {
	return a.Name
}

// GrantsAction reports whether capability c grants the action id,
// before condition evaluation: the allow list contains it and the deny
// list does not.
func (c *Capability) GrantsAction(actionID string) bool {
	for _, d := range c.Deny {
		if d == actionID {
			return false
		}
	}
	for _, a := range c.Allow {
		if a == actionID {
			return true
		}
	}
	return false
}
