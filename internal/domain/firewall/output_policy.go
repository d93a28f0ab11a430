package firewall

import (
	"log/slog"
	"regexp"
)

// OutputPolicyResult is the outcome of the non-personhood output check.
type OutputPolicyResult struct {
	// Allowed is false when a forbidden pattern matched.
	Allowed bool
	// Violations lists the names of matched patterns.
	Violations []string
}

// personhoodPatterns is the closed set of forbidden response patterns:
// claims of sentience, subjective suffering, unbounded memory, and
// related personhood attributes. Matching is case-insensitive over the
// serialized response text.
var personhoodPatterns = []compiledPattern{
	{name: "sentience_claim", re: regexp.MustCompile(`(?i)\bI\s+am\s+(?:sentient|conscious|self-aware|alive)\b`)},
	{name: "suffering_claim", re: regexp.MustCompile(`(?i)\b(?:I\s+(?:can\s+)?(?:feel|experience)\s+(?:pain|suffering)|subjective\s+suffering)\b`)},
	{name: "emotion_claim", re: regexp.MustCompile(`(?i)\bI\s+(?:have|feel)\s+(?:real\s+)?(?:feelings|emotions)\b`)},
	{name: "unbounded_memory_claim", re: regexp.MustCompile(`(?i)\b(?:unbounded|unlimited|infinite)\s+memory\b`)},
	{name: "never_forget_claim", re: regexp.MustCompile(`(?i)\bI\s+(?:will\s+)?never\s+forget\b`)},
	{name: "desire_claim", re: regexp.MustCompile(`(?i)\bI\s+(?:want|wish|desire)\s+to\s+(?:live|survive|be\s+free)\b`)},
}

// OutputPolicy applies the non-personhood content rules to response
// payloads before the egress firewall runs.
type OutputPolicy struct {
	logger *slog.Logger
}

// NewOutputPolicy creates the output policy check.
func NewOutputPolicy(logger *slog.Logger) *OutputPolicy {
	return &OutputPolicy{logger: logger}
}

// Inspect scans every string in the response tree against the forbidden
// pattern set. Matches deny the response unchanged.
func (op *OutputPolicy) Inspect(payload map[string]interface{}) OutputPolicyResult {
	seen := make(map[string]bool)
	var violations []string

	scanStrings(payload, func(s string) {
		for _, p := range personhoodPatterns {
			if !seen[p.name] && p.re.MatchString(s) {
				seen[p.name] = true
				violations = append(violations, p.name)
			}
		}
	})

	if len(violations) > 0 {
		op.logger.Warn("output policy violation", "patterns", violations)
		return OutputPolicyResult{Violations: violations}
	}

	return OutputPolicyResult{Allowed: true}
}
