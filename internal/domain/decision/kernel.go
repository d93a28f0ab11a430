// Package decision implements the action-decision kernel (CDI): the
// state machine that judges every action request against treaty
// availability, consent state, capability grants, and content policy.
// On allow it mints a single-use capability token bound to the
// sanitized payload.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

// ConditionInput is the variable set a capability grant condition
// may reference.
type ConditionInput struct {
	// Actor is the requesting identity.
	Actor string
	// ActionID is the canonical action being requested.
	ActionID string
	// RiskClass is the action's registered risk class.
	RiskClass string
	// PayloadSize is the canonical byte length of the sanitized payload.
	PayloadSize int
}

// ConditionEvaluator evaluates a capability grant condition.
// Interface owned by the domain per hexagonal architecture; the CEL
// adapter implements it.
type ConditionEvaluator interface {
	Evaluate(expression string, input ConditionInput) (bool, error)
	ValidateExpression(expression string) error
}

// Verdict is the kernel's decision for one action request.
type Verdict struct {
	// Allowed is true only when every gate passed.
	Allowed bool
	// Reason is the stable reason code for denials (empty on allow).
	Reason reason.Code
	// Message is a short human-readable explanation.
	Message string
	// Token is the minted capability token (allow only).
	Token *capability.Token
	// CapabilityID is the genome capability that granted the action.
	CapabilityID string
}

// Request is the kernel's input: an ingress-sanitized action request.
type Request struct {
	// Actor is the requesting identity.
	Actor string
	// ActionID is the canonical action id.
	ActionID string
	// Sanitized is the payload after the ingress firewall.
	Sanitized map[string]interface{}
	// Route and Method identify the transport surface, for receipts.
	Route  string
	Method string
	// RequestHash is the digest of the original envelope.
	RequestHash string
}

// Kernel evaluates action requests. All state it consults (artifact,
// registry, consent, ledger) is in memory; evaluation never blocks on
// I/O, and for identical inputs the verdict is identical — timestamps
// and token ids are the only non-deterministic outputs.
type Kernel struct {
	artifact *genome.Artifact
	registry *action.Registry
	consents *consent.Store
	ledger   capability.Ledger
	cond     ConditionEvaluator
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewKernel creates the decision kernel. A nil artifact is legal and
// makes every decision deny with TREATY_UNAVAILABLE.
func NewKernel(
	artifact *genome.Artifact,
	registry *action.Registry,
	consents *consent.Store,
	ledger capability.Ledger,
	cond ConditionEvaluator,
	logger *slog.Logger,
) *Kernel {
	return &Kernel{
		artifact: artifact,
		registry: registry,
		consents: consents,
		ledger:   ledger,
		cond:     cond,
		tokenTTL: capability.DefaultTTL,
		logger:   logger,
	}
}

// Ready reports whether the kernel can reach an allow verdict at all.
func (k *Kernel) Ready() bool {
	return k.artifact != nil && k.registry != nil && k.registry.Len() > 0
}

// CheckAction runs the gate sequence for one request. Gate order is
// fixed: treaty availability, consent, registry + capability, content
// policy. The first failing gate decides.
func (k *Kernel) CheckAction(ctx context.Context, req Request, now time.Time) Verdict {
	// Gate 1: treaty availability.
	if k.artifact == nil {
		return deny(reason.TreatyUnavailable, "policy artifact is not loaded")
	}

	// Gate 2: consent. Anchor stops dominate every actor.
	status := k.consents.Check(req.Actor)
	if status.Blocked {
		if status.AnchorIssued {
			return deny(reason.ConsentStopActive,
				fmt.Sprintf("anchor-issued stop from %q is active", status.Source))
		}
		return deny(reason.ConsentStopActive,
			fmt.Sprintf("stop signal from %q is active", status.Source))
	}

	// Gate 3: registry and capability search.
	act, ok := k.registry.Lookup(req.ActionID)
	if !ok {
		return deny(reason.UnregisteredAction,
			fmt.Sprintf("action %q is not registered", req.ActionID))
	}

	capID, denyVerdict := k.findGrant(req, act)
	if denyVerdict != nil {
		return *denyVerdict
	}

	// Gate 4: content policy over the sanitized payload.
	if hiveField, found := findHiveMarker(req.Sanitized); found {
		return deny(reason.CDIHiveForbidden,
			fmt.Sprintf("forbidden coordination field %q", hiveField))
	}

	// All gates passed: mint a single-use token bound to the sanitized
	// payload and record it in the ledger.
	payloadHash, err := canon.Digest(req.Sanitized)
	if err != nil {
		return deny(reason.UncertainFailClosed, "payload hash failed")
	}

	token := capability.Token{
		ID:           uuid.NewString(),
		ActionID:     req.ActionID,
		Actor:        req.Actor,
		PayloadHash:  payloadHash,
		Capabilities: []string{capID},
		IssuedAt:     now,
		ExpiresAt:    now.Add(k.tokenTTL),
	}
	if err := k.ledger.Mint(ctx, token); err != nil {
		k.logger.Error("token mint failed", "error", err, "action", req.ActionID)
		return deny(reason.UncertainFailClosed, "capability token mint failed")
	}

	k.logger.Debug("action allowed",
		"actor", req.Actor,
		"action", req.ActionID,
		"capability", capID,
		"token", token.ID,
	)

	return Verdict{Allowed: true, Token: &token, CapabilityID: capID}
}

// findGrant searches the artifact's capability set for one whose
// allow-list contains the action and whose deny-list does not, with a
// true grant condition. A condition evaluation error fails closed.
func (k *Kernel) findGrant(req Request, act action.Action) (string, *Verdict) {
	size, err := canon.Size(req.Sanitized)
	if err != nil {
		v := deny(reason.UncertainFailClosed, "payload size failed")
		return "", &v
	}

	input := ConditionInput{
		Actor:       req.Actor,
		ActionID:    req.ActionID,
		RiskClass:   string(act.Risk),
		PayloadSize: size,
	}

	for _, c := range k.artifact.Capabilities {
		if !c.GrantsAction(req.ActionID) {
			continue
		}
		if c.When != "" {
			ok, err := k.cond.Evaluate(c.When, input)
			if err != nil {
				k.logger.Warn("grant condition evaluation failed; failing closed",
					"capability", c.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		return c.ID, nil
	}

	v := deny(reason.CDIActionDenied,
		fmt.Sprintf("no capability grants action %q", req.ActionID))
	return "", &v
}

// hiveMarkerKeys are payload fields that declare multi-instance
// coordination; their presence denies the request.
var hiveMarkerKeys = map[string]bool{
	"peer_instances":      true,
	"coordination_beacon": true,
}

// hiveMarkerTypes are values of a "type" field that declare
// coordination intent.
var hiveMarkerTypes = map[string]bool{
	"coordination_beacon": true,
	"hive_sync":           true,
}

// findHiveMarker walks the payload tree looking for coordination
// markers. Returns the offending field name when found.
func findHiveMarker(v interface{}) (string, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, mv := range val {
			if hiveMarkerKeys[key] {
				return key, true
			}
			if key == "type" {
				if s, ok := mv.(string); ok && hiveMarkerTypes[s] {
					return s, true
				}
			}
			if name, found := findHiveMarker(mv); found {
				return name, true
			}
		}
	case []interface{}:
		for _, item := range val {
			if name, found := findHiveMarker(item); found {
				return name, true
			}
		}
	}
	return "", false
}

// deny builds a denial verdict.
func deny(code reason.Code, msg string) Verdict {
	return Verdict{Reason: code, Message: msg}
}
