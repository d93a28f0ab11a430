package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/ratelimit"
)

// DefaultMaxRequestSize is the ingress byte cap (1 MiB) over the
// canonical payload encoding.
const DefaultMaxRequestSize = 1 << 20

// IngressResult is the outcome of the ingress firewall.
type IngressResult struct {
	// Allowed is false when any check failed.
	Allowed bool
	// Sanitized is the sanitized payload tree (nil when denied).
	Sanitized map[string]interface{}
	// Violations lists the stable violation strings, in check order.
	Violations []string
	// Quarantined is true when a suspicious pattern was found.
	Quarantined bool
	// RateRemaining is the actor's remaining budget after this request.
	RateRemaining int
	// RetryAfter is the wait until the budget resets, when rate limited.
	RetryAfter time.Duration
}

// IngressConfig bounds the ingress firewall.
type IngressConfig struct {
	// MaxRequestSize is the canonical byte cap for payloads.
	MaxRequestSize int
	// RateLimit is the per-actor budget.
	RateLimit ratelimit.Config
}

// Ingress is the content input firewall. Checks run in a fixed order
// and the first failure short-circuits: size bound, per-actor rate
// limit, structural quarantine, sanitization.
type Ingress struct {
	cfg     IngressConfig
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewIngress creates the ingress firewall.
func NewIngress(cfg IngressConfig, limiter ratelimit.Limiter, logger *slog.Logger) *Ingress {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	return &Ingress{cfg: cfg, limiter: limiter, logger: logger}
}

// Inspect runs the ordered ingress checks for one request.
func (in *Ingress) Inspect(ctx context.Context, actor, endpoint string, payload map[string]interface{}, now time.Time) (IngressResult, error) {
	// 1. Size bound over the canonical encoding.
	size, err := canon.Size(payload)
	if err != nil {
		return IngressResult{}, fmt.Errorf("canonicalize payload: %w", err)
	}
	if size > in.cfg.MaxRequestSize {
		in.logger.Info("ingress blocked: payload too large",
			"actor", actor, "endpoint", endpoint, "size", size, "max", in.cfg.MaxRequestSize)
		return IngressResult{Violations: []string{ViolationRequestTooLarge}}, nil
	}

	// 2. Per-actor rate limit.
	res, err := in.limiter.Allow(ctx, ratelimit.ActorKey(actor), now, in.cfg.RateLimit)
	if err != nil {
		return IngressResult{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !res.Allowed {
		in.logger.Info("ingress blocked: rate limited",
			"actor", actor, "retry_after", res.RetryAfter)
		return IngressResult{
			Violations:    []string{ViolationRateLimited},
			RateRemaining: 0,
			RetryAfter:    res.RetryAfter,
		}, nil
	}

	// 3. Structural quarantine.
	var hit string
	scanStrings(payload, func(s string) {
		if hit != "" {
			return
		}
		if name, ok := matchAny(quarantinePatterns, s); ok {
			hit = name
		}
	})
	if hit != "" {
		in.logger.Warn("ingress quarantined",
			"actor", actor, "endpoint", endpoint, "pattern", hit)
		return IngressResult{
			Violations:    []string{ViolationSuspiciousPattern},
			Quarantined:   true,
			RateRemaining: res.Remaining,
		}, nil
	}

	// 4. Sanitization pass: redact credential shapes. Script protocols
	// never reach here; the quarantine table catches them in step 3.
	// Structure is preserved; only string leaves change.
	sanitized := rewriteStrings(payload, func(s string) string {
		return redactAll(credentialPatterns, s)
	}).(map[string]interface{})

	return IngressResult{
		Allowed:       true,
		Sanitized:     sanitized,
		RateRemaining: res.Remaining,
	}, nil
}
