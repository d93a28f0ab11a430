package firewall

import (
	"fmt"
	"log/slog"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
)

// DefaultMaxResponseSize is the egress byte cap (4 MiB) over the
// canonical response encoding.
const DefaultMaxResponseSize = 4 << 20

// EgressResult is the outcome of the egress firewall.
type EgressResult struct {
	// Allowed is false when the size bound failed, or when strict mode
	// denied on detection.
	Allowed bool
	// Sanitized is the response tree with secrets and PII redacted.
	Sanitized map[string]interface{}
	// Violations lists the stable violation strings.
	Violations []string
	// Leaks lists the leak indicators ("Secrets detected", "PII detected").
	Leaks []string
}

// EgressConfig bounds the egress firewall.
type EgressConfig struct {
	// MaxResponseSize is the canonical byte cap for responses.
	MaxResponseSize int
	// Strict denies responses on detection instead of redacting.
	// Enabled in production posture.
	Strict bool
}

// Egress is the content output firewall: size bound, secret and PII
// scan, substring redaction.
type Egress struct {
	cfg    EgressConfig
	logger *slog.Logger
}

// NewEgress creates the egress firewall.
func NewEgress(cfg EgressConfig, logger *slog.Logger) *Egress {
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	return &Egress{cfg: cfg, logger: logger}
}

// Inspect runs the ordered egress checks over a response payload.
func (eg *Egress) Inspect(actor, endpoint string, payload map[string]interface{}) (EgressResult, error) {
	// 1. Size bound.
	size, err := canon.Size(payload)
	if err != nil {
		return EgressResult{}, fmt.Errorf("canonicalize response: %w", err)
	}
	if size > eg.cfg.MaxResponseSize {
		eg.logger.Info("egress blocked: response too large",
			"actor", actor, "endpoint", endpoint, "size", size, "max", eg.cfg.MaxResponseSize)
		return EgressResult{Violations: []string{ViolationResponseTooLarge}}, nil
	}

	// 2. Secret and PII scan.
	var secretsFound, piiFound bool
	scanStrings(payload, func(s string) {
		if !secretsFound {
			if _, ok := matchAny(secretPatterns, s); ok {
				secretsFound = true
			}
		}
		if !piiFound {
			if _, ok := matchAny(piiPatterns, s); ok {
				piiFound = true
			}
		}
	})

	var violations, leaks []string
	if secretsFound {
		violations = append(violations, ViolationSecretLeak)
		leaks = append(leaks, LeakSecrets)
	}
	if piiFound {
		leaks = append(leaks, LeakPII)
	}

	// 3. Redaction into a fresh tree; structure is retained.
	sanitized := payload
	if secretsFound || piiFound {
		sanitized = rewriteStrings(payload, func(s string) string {
			s = redactAll(secretPatterns, s)
			return redactAll(piiPatterns, s)
		}).(map[string]interface{})

		eg.logger.Warn("egress detections redacted",
			"actor", actor, "endpoint", endpoint,
			"secrets", secretsFound, "pii", piiFound, "strict", eg.cfg.Strict)

		if eg.cfg.Strict {
			return EgressResult{
				Sanitized:  sanitized,
				Violations: violations,
				Leaks:      leaks,
			}, nil
		}
	}

	return EgressResult{
		Allowed:    true,
		Sanitized:  sanitized,
		Violations: violations,
		Leaks:      leaks,
	}, nil
}
