// Package canon provides canonical serialization and digests for
// governance artifacts. Every hash that participates in the receipt
// chain or a proof is computed over the RFC 8785 (JCS) canonical form,
// so two processes always agree on the bytes being signed.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/gowebpki/jcs"
)

// Canonicalize returns the JCS canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return canonical, nil
}

// Digest returns the hex-encoded sha256 of the canonical form of v.
func Digest(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(canonical), nil
}

// DigestBytes returns the hex-encoded sha256 of raw bytes.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChainHash computes the self hash of a chained record:
// sha256(previousHash || canonicalBytes), hex-encoded.
func ChainHash(previousHash string, canonicalBytes []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonicalBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey returns a fast non-cryptographic key for v.
// Used for idempotency and memoization lookups, never for integrity.
func CacheKey(parts ...string) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Size returns the canonical byte length of v, used for size bounds.
func Size(v interface{}) (int, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return 0, err
	}
	return len(canonical), nil
}
