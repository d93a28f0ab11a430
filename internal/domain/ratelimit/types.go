// Package ratelimit provides per-actor request budgeting.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config defines a fixed-window rate limit.
type Config struct {
	// Window is the budget window duration.
	Window time.Duration
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request fits the budget.
	Allowed bool
	// Remaining is the budget left in the current window.
	Remaining int
	// RetryAfter is how long until the window resets.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is the per-actor rate limit port.
// Interface owned by the domain per hexagonal architecture.
// Decisions for one key must be serialized: concurrent requests that
// together exceed the budget see deterministic acceptance of the first
// N and denial of the rest.
type Limiter interface {
	// Allow consumes one unit of key's budget at the given instant.
	Allow(ctx context.Context, key string, now time.Time, cfg Config) (Result, error)
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// ActorKey returns the structured rate limit key for an actor.
// Format: "ratelimit:actor:{id}".
func ActorKey(actor string) string {
	return fmt.Sprintf("%s:actor:%s", keyPrefix, actor)
}
