package genome

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowebpki/jcs"
)

// Sentinel errors for artifact loading. All of them map to the
// GENOME_INVALID reason code; the wrapped detail stays in logs and
// receipts, never in client responses.
var (
	// ErrSchemaUnknown is returned for an unrecognized schema version.
	ErrSchemaUnknown = errors.New("unknown artifact schema version")
	// ErrFieldMissing is returned when a required field is absent.
	ErrFieldMissing = errors.New("required artifact field missing")
	// ErrNoSigners is returned when the signer set is empty.
	ErrNoSigners = errors.New("artifact signer set is empty")
	// ErrQuorumNotMet is returned when fewer than threshold signatures verify.
	ErrQuorumNotMet = errors.New("signature quorum not met")
	// ErrUnknownSigner is returned when a signature names an undeclared key.
	ErrUnknownSigner = errors.New("signature from undeclared signer")
	// ErrManifestMismatch is returned when a manifest entry does not match disk.
	ErrManifestMismatch = errors.New("build manifest mismatch")
)

// Loader loads and verifies the policy artifact. A load failure is
// fatal for the process: there are no retries and no degraded mode.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates an artifact loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load reads, parses, and verifies the artifact at path.
// In production posture every build-manifest entry is re-hashed
// relative to repoRoot.
func (l *Loader) Load(path string, posture Posture, repoRoot string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}

	if err := l.validateStructure(&artifact); err != nil {
		return nil, err
	}

	if err := verifySignatures(raw, &artifact); err != nil {
		return nil, err
	}

	if posture == PostureProduction {
		if err := verifyManifest(&artifact, repoRoot); err != nil {
			return nil, err
		}
	}

	l.logger.Info("policy artifact loaded",
		"artifact", artifact.ID(),
		"version", artifact.Version,
		"capabilities", len(artifact.Capabilities),
		"invariants", len(artifact.Invariants),
		"posture", string(posture),
	)

	return &artifact, nil
}

// validateStructure rejects artifacts with unknown schemas or missing
// required fields before any cryptographic work happens.
func (l *Loader) validateStructure(a *Artifact) error {
	if a.Schema != SchemaVersion {
		return fmt.Errorf("%w: %q", ErrSchemaUnknown, a.Schema)
	}
	if a.Name == "" || a.Version == "" {
		return fmt.Errorf("%w: name/version", ErrFieldMissing)
	}
	if len(a.Signers) == 0 {
		return ErrNoSigners
	}
	if a.Threshold <= 0 || a.Threshold > len(a.Signers) {
		return fmt.Errorf("%w: threshold %d with %d signers", ErrFieldMissing, a.Threshold, len(a.Signers))
	}
	if len(a.Capabilities) == 0 {
		return fmt.Errorf("%w: capabilities", ErrFieldMissing)
	}
	for _, c := range a.Capabilities {
		if c.ID == "" || len(c.Allow) == 0 {
			return fmt.Errorf("%w: capability %q", ErrFieldMissing, c.ID)
		}
	}
	return nil
}

// SigningBytes returns the canonical bytes that signatures cover: the
// JCS transform of the raw document with the signatures block removed.
func SigningBytes(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse for signing bytes: %w", err)
	}
	delete(doc, "signatures")

	stripped, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-marshal for signing bytes: %w", err)
	}

	canonical, err := jcs.Transform(stripped)
	if err != nil {
		return nil, fmt.Errorf("canonicalize artifact: %w", err)
	}
	return canonical, nil
}

// verifySignatures checks that a quorum of declared signers covers the
// canonical serialization. A signature from an undeclared key is an
// error even when the quorum is otherwise met.
func verifySignatures(raw []byte, a *Artifact) error {
	canonical, err := SigningBytes(raw)
	if err != nil {
		return err
	}

	keys := make(map[string]ed25519.PublicKey, len(a.Signers))
	for _, s := range a.Signers {
		pub, err := hex.DecodeString(s.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: bad public key for %q", ErrFieldMissing, s.KeyID)
		}
		keys[s.KeyID] = ed25519.PublicKey(pub)
	}

	verified := make(map[string]bool, len(a.Signatures))
	for _, sig := range a.Signatures {
		pub, ok := keys[sig.KeyID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSigner, sig.KeyID)
		}
		sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
		if err != nil {
			return fmt.Errorf("%w: undecodable signature from %q", ErrQuorumNotMet, sig.KeyID)
		}
		if ed25519.Verify(pub, canonical, sigBytes) {
			verified[sig.KeyID] = true
		}
	}

	if len(verified) < a.Threshold {
		return fmt.Errorf("%w: %d of %d", ErrQuorumNotMet, len(verified), a.Threshold)
	}
	return nil
}

// verifyManifest re-hashes every file the manifest covers. Any missing
// file or digest mismatch invalidates the artifact.
func verifyManifest(a *Artifact, repoRoot string) error {
	for path, want := range a.BuildManifest {
		got, err := hashFile(filepath.Join(repoRoot, path))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrManifestMismatch, path, err)
		}
		if got != want {
			return fmt.Errorf("%w: %s", ErrManifestMismatch, path)
		}
	}
	return nil
}

// hashFile returns the hex sha256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
