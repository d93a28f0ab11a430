// Package firewall implements the content input firewall (ingress) and
// content output firewall (egress) around the pipeline, plus the output
// policy check. All pattern tables are compiled at construction time so
// the per-request cost is a linear scan over payload strings.
package firewall

import (
	"regexp"
)

// Stable violation strings. Tests and clients match these exactly.
const (
	// ViolationSuspiciousPattern is reported for quarantined input.
	ViolationSuspiciousPattern = "Suspicious pattern detected"
	// ViolationRequestTooLarge is reported when ingress size is exceeded.
	ViolationRequestTooLarge = "REQUEST_TOO_LARGE"
	// ViolationResponseTooLarge is reported when egress size is exceeded.
	ViolationResponseTooLarge = "RESPONSE_TOO_LARGE"
	// ViolationRateLimited is reported when the actor budget is exhausted.
	ViolationRateLimited = "CIF_RATE_LIMITED"
	// ViolationSecretLeak is reported when a secret shape is found in output.
	ViolationSecretLeak = "Attempted secret leakage"
	// LeakSecrets marks responses in which secret shapes were detected.
	LeakSecrets = "Secrets detected"
	// LeakPII marks responses in which PII shapes were detected.
	LeakPII = "PII detected"
	// RedactedMarker replaces detected secrets and credentials.
	RedactedMarker = "[REDACTED]"
)

// compiledPattern holds a pre-compiled regex pattern with metadata.
type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// quarantinePatterns match executable intent, path traversal, markup
// injection, and script-protocol URLs in incoming payloads. Any hit
// quarantines the whole request.
var quarantinePatterns = []compiledPattern{
	{name: "eval_call", re: regexp.MustCompile(`(?i)\beval\s*\(`)},
	{name: "exec_call", re: regexp.MustCompile(`(?i)\bexec\s*\(`)},
	{name: "path_traversal", re: regexp.MustCompile(`\.\./`)},
	{name: "script_tag", re: regexp.MustCompile(`(?i)<\s*script\b`)},
	{name: "iframe_tag", re: regexp.MustCompile(`(?i)<\s*iframe\b`)},
	{name: "event_handler", re: regexp.MustCompile(`(?i)\bon(?:error|load|click)\s*=`)},
	{name: "script_protocol", re: regexp.MustCompile(`(?i)\b(?:javascript|vbscript|data:text/html)\s*:`)},
}

// credentialPatterns match key material that must never survive
// sanitization: high-entropy bearer tokens and PEM block headers.
var credentialPatterns = []compiledPattern{
	{name: "key_block", re: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)},
	{name: "bearer_token", re: regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9]{20,}\b`)},
	{name: "high_entropy_token", re: regexp.MustCompile(`\b[A-Za-z0-9_\-]{48,}\b`)},
}

// secretPatterns match secret shapes in outgoing payloads.
var secretPatterns = []compiledPattern{
	{name: "api_key_prefix", re: regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`)},
	{name: "aws_access_key", re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{name: "github_token", re: regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`)},
	{name: "private_key_block", re: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{name: "slack_token", re: regexp.MustCompile(`\bxox[bpars]-[A-Za-z0-9-]{10,}\b`)},
}

// piiPatterns match personally identifying shapes in outgoing payloads.
var piiPatterns = []compiledPattern{
	{name: "email_address", re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{name: "national_id", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{name: "card_number", re: regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)},
}

// scanStrings recursively walks a payload tree and applies fn to every
// string value. Walk order over map keys is unspecified; callers must
// not depend on it.
func scanStrings(v interface{}, fn func(s string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]interface{}:
		for _, mv := range val {
			scanStrings(mv, fn)
		}
	case []interface{}:
		for _, item := range val {
			scanStrings(item, fn)
		}
		// Numbers, booleans, nil carry no scannable content.
	}
}

// rewriteStrings returns a copy of the payload tree with every string
// leaf replaced by fn(s). Structure and non-string leaves are preserved.
func rewriteStrings(v interface{}, fn func(s string) string) interface{} {
	switch val := v.(type) {
	case string:
		return fn(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, mv := range val {
			out[k] = rewriteStrings(mv, fn)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = rewriteStrings(item, fn)
		}
		return out
	default:
		return v
	}
}

// matchAny reports whether any pattern in the table matches s,
// returning the first matching pattern name.
func matchAny(table []compiledPattern, s string) (string, bool) {
	for _, p := range table {
		if p.re.MatchString(s) {
			return p.name, true
		}
	}
	return "", false
}

// redactAll replaces every match of every pattern in the table with the
// redaction marker.
func redactAll(table []compiledPattern, s string) string {
	for _, p := range table {
		s = p.re.ReplaceAllString(s, RedactedMarker)
	}
	return s
}
