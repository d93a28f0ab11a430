// Package gate implements the side-effect gate: the single chokepoint
// every state-changing operation must pass through. The gate redeems
// the capability token, enforces concurrency budgets and idempotency,
// bounds execution time, and converts every failure mode into a
// fail-closed verdict.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// Default concurrency and timeout settings.
const (
	DefaultMaxTotal    = 16
	DefaultMaxPerActor = 4
	DefaultJobTimeout  = 30 * time.Second
)

// Notes carried in gate results and receipts for uncertain outcomes.
const (
	NoteTimeout = "TIMEOUT"
	NotePanic   = "PANIC"
)

// Handler executes the actual side effect for one action.
type Handler func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// Request is one gated execution attempt.
type Request struct {
	// JobID identifies the job for receipts.
	JobID string
	// Actor is the requesting identity.
	Actor string
	// ActionID is the canonical action id.
	ActionID string
	// Endpoint is the transport surface, part of the idempotency key.
	Endpoint string
	// TokenID is the capability token minted by the decision kernel.
	TokenID string
	// Payload is the sanitized payload to execute with.
	Payload map[string]interface{}
	// PayloadHash is the digest the token was bound to.
	PayloadHash string
	// IdempotencyKey is the caller-supplied replay key, if any.
	IdempotencyKey string
	// SideEffecting actions consume concurrency slots; reads do not.
	SideEffecting bool
}

// Result is the gate's outcome for one execution attempt.
type Result struct {
	// Allowed reports whether the side effect ran (or was replayed).
	Allowed bool
	// Reason is the stable denial code (empty on allow).
	Reason reason.Code
	// Note carries the uncertainty note (TIMEOUT, PANIC) when set.
	Note string
	// Message is a short human-readable explanation.
	Message string
	// Response is the handler's output, or the stored response on replay.
	Response map[string]interface{}
	// Replayed is true when the response came from the idempotency store.
	Replayed bool
}

// Release frees the concurrency slots an execution held. The caller
// must invoke it exactly once, after the execution receipt has been
// appended, so a cancelled job's slot cannot be reused before its
// denial is on the chain.
type Release func()

// Config bounds the gate.
type Config struct {
	MaxTotal    int
	MaxPerActor int
	JobTimeout  time.Duration
}

// Gate serializes and bounds side-effect execution.
type Gate struct {
	ledger      capability.Ledger
	idem        IdempotencyStore
	globalSem   chan struct{}
	actorMu     sync.Mutex
	actorSems   map[string]chan struct{}
	maxPerActor int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewGate creates a side-effect gate. Zero config fields fall back to
// defaults.
func NewGate(ledger capability.Ledger, idem IdempotencyStore, cfg Config, logger *slog.Logger) *Gate {
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.MaxPerActor <= 0 {
		cfg.MaxPerActor = DefaultMaxPerActor
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Gate{
		ledger:      ledger,
		idem:        idem,
		globalSem:   make(chan struct{}, cfg.MaxTotal),
		actorSems:   make(map[string]chan struct{}),
		maxPerActor: cfg.MaxPerActor,
		timeout:     cfg.JobTimeout,
		logger:      logger,
	}
}

// noRelease is the Release for attempts that never acquired a slot.
func noRelease() {}

// Execute runs one gated side effect. The returned Release must be
// called after the caller persists the execution receipt.
//
// Order: idempotency replay check, token redemption, concurrency
// acquisition, bounded handler execution, idempotency record.
func (g *Gate) Execute(ctx context.Context, req Request, handler Handler, now time.Time) (Result, Release) {
	// Replay check before spending the token: a legitimate retry must
	// not burn a fresh token or a concurrency slot.
	if req.IdempotencyKey != "" {
		key := IdempotencyKeyFor(req.Endpoint, req.IdempotencyKey)
		rec, found, err := g.idem.Get(ctx, key)
		if err != nil {
			return failClosed("idempotency store read failed"), noRelease
		}
		if found {
			if rec.PayloadDigest != req.PayloadHash {
				return Result{
					Reason:  reason.GovernanceDeny,
					Message: "idempotency key reused with a divergent payload",
				}, noRelease
			}
			return Result{
				Allowed:  true,
				Response: rec.Response,
				Replayed: true,
				Message:  "replayed stored response",
			}, noRelease
		}
	}

	// Token redemption. Exactly one execution per token.
	outcome, err := g.ledger.Redeem(ctx, req.TokenID, req.ActionID, req.PayloadHash, now)
	if err != nil {
		g.logger.Error("token redemption failed", "error", err, "token", req.TokenID)
		return failClosed("capability ledger unavailable"), noRelease
	}
	if deny, denied := redeemDenial(outcome); denied {
		return deny, noRelease
	}

	// Concurrency budget: global slot first, then the actor's.
	// Read-only actions do not consume slots.
	release := noRelease
	if req.SideEffecting {
		select {
		case g.globalSem <- struct{}{}:
		default:
			return Result{
				Reason:  reason.JobConcurrencyLimit,
				Message: "global side-effect concurrency limit reached",
			}, noRelease
		}

		actorSem := g.actorSem(req.Actor)
		select {
		case actorSem <- struct{}{}:
		default:
			<-g.globalSem
			return Result{
				Reason:  reason.JobConcurrencyLimit,
				Message: fmt.Sprintf("actor %q concurrency limit reached", req.Actor),
			}, noRelease
		}

		release = func() {
			<-actorSem
			<-g.globalSem
		}
	}

	res := g.run(ctx, req, handler)

	if res.Allowed && req.IdempotencyKey != "" {
		key := IdempotencyKeyFor(req.Endpoint, req.IdempotencyKey)
		err := g.idem.Put(ctx, IdempotencyRecord{
			Key:           key,
			PayloadDigest: req.PayloadHash,
			Response:      res.Response,
			StoredAt:      now,
		})
		if err != nil {
			g.logger.Warn("idempotency record write failed", "error", err)
		}
	}

	return res, release
}

// run executes the handler with a deadline and panic capture.
func (g *Gate) run(ctx context.Context, req Request, handler Handler) Result {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		response map[string]interface{}
		err      error
		panicked bool
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("handler panic",
					"action", req.ActionID, "job", req.JobID, "panic", r)
				done <- outcome{err: fmt.Errorf("handler panic: %v", r), panicked: true}
			}
		}()
		resp, err := handler(runCtx, req.Payload)
		done <- outcome{response: resp, err: err}
	}()

	select {
	case <-runCtx.Done():
		res := failClosed("execution deadline exceeded")
		res.Note = NoteTimeout
		return res
	case out := <-done:
		if out.err != nil {
			res := failClosed(fmt.Sprintf("handler failed: %v", out.err))
			if out.panicked {
				res.Note = NotePanic
			}
			return res
		}
		return Result{Allowed: true, Response: out.response}
	}
}

// actorSem returns (creating if needed) the actor's semaphore.
func (g *Gate) actorSem(actor string) chan struct{} {
	g.actorMu.Lock()
	defer g.actorMu.Unlock()

	sem, ok := g.actorSems[actor]
	if !ok {
		sem = make(chan struct{}, g.maxPerActor)
		g.actorSems[actor] = sem
	}
	return sem
}

// redeemDenial maps a failed redemption outcome to a denial.
func redeemDenial(outcome capability.RedeemOutcome) (Result, bool) {
	switch outcome {
	case capability.RedeemOK:
		return Result{}, false
	case capability.RedeemAlreadySpent:
		return Result{
			Reason:  reason.TokenReplayed,
			Message: "capability token was already redeemed",
		}, true
	case capability.RedeemExpired:
		return Result{
			Reason:  reason.GovernanceDeny,
			Message: "capability token expired before redemption",
		}, true
	default:
		// Missing token or a binding mismatch means the caller tried to
		// reach the gate outside the decided corridor.
		return Result{
			Reason:  reason.ActionGateBypassAttempt,
			Message: fmt.Sprintf("token does not authorize this call (%s)", outcome),
		}, true
	}
}

func failClosed(msg string) Result {
	return Result{Reason: reason.UncertainFailClosed, Message: msg}
}
