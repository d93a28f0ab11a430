// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/ratelimit"
)

// windowBucket tracks one actor's fixed-window budget.
type windowBucket struct {
	windowStart time.Time
	remaining   int
}

// RateLimiter implements ratelimit.Limiter with per-key fixed windows.
// Decisions for one key are serialized under a single mutex, so a burst
// that exceeds the budget deterministically admits the first N requests
// and denies the rest. Includes background cleanup to prevent unbounded
// memory growth.
type RateLimiter struct {
	buckets         map[string]windowBucket
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// NewRateLimiter creates an in-memory rate limiter with default cleanup
// settings (every 5 minutes, keys idle over 1 hour removed).
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 1*time.Hour)
}

// NewRateLimiterWithConfig creates an in-memory rate limiter with custom
// cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:         make(map[string]windowBucket),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow consumes one unit of key's budget at instant now.
// The window resets when now >= windowStart + Window; identical request
// sequences always yield identical verdicts.
func (r *RateLimiter) Allow(_ context.Context, key string, now time.Time, cfg ratelimit.Config) (ratelimit.Result, error) {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok || !now.Before(b.windowStart.Add(cfg.Window)) {
		b = windowBucket{windowStart: now, remaining: cfg.MaxRequests}
	}

	if b.remaining <= 0 {
		r.buckets[key] = b
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: b.windowStart.Add(cfg.Window).Sub(now),
		}, nil
	}

	b.remaining--
	r.buckets[key] = b

	return ratelimit.Result{
		Allowed:   true,
		Remaining: b.remaining,
	}, nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes buckets whose window started more than maxTTL ago.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxTTL)
	cleaned := 0

	for key, b := range r.buckets {
		if b.windowStart.Before(cutoff) {
			delete(r.buckets, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
