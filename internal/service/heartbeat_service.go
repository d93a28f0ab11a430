package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

// canaryActor is the synthetic identity heartbeat probes run as.
const canaryActor = "system:heartbeat"

// HeartbeatService owns the probe battery and the fail-closed monitor.
type HeartbeatService struct {
	monitor *heartbeat.Monitor
}

// NewHeartbeatService builds the standard probe set and its monitor:
// artifact validity, registry population, kernel readiness, chain
// reachability and integrity, and two canary decisions.
func NewHeartbeatService(
	artifact *genome.Artifact,
	registry *action.Registry,
	kernel *decision.Kernel,
	chain receipt.Chain,
	ledger capability.Ledger,
	interval time.Duration,
	logger *slog.Logger,
) *HeartbeatService {
	probes := []heartbeat.Probe{
		{
			Name: "artifact_loaded",
			Check: func(context.Context) error {
				if artifact == nil {
					return errors.New("policy artifact not loaded")
				}
				return nil
			},
		},
		{
			Name: "registry_populated",
			Check: func(context.Context) error {
				if registry == nil || registry.Len() == 0 {
					return errors.New("action registry is empty")
				}
				return nil
			},
		},
		{
			Name: "kernel_ready",
			Check: func(context.Context) error {
				if kernel == nil || !kernel.Ready() {
					return errors.New("decision kernel not ready")
				}
				return nil
			},
		},
		{
			Name: "chain_reachable",
			Check: func(ctx context.Context) error {
				_, err := chain.Len(ctx)
				return err
			},
		},
		{
			Name: "chain_intact",
			Check: func(ctx context.Context) error {
				brk, err := receipt.ValidateChain(ctx, chain)
				if err != nil {
					return err
				}
				if brk != nil {
					return brk
				}
				return nil
			},
		},
		{
			Name:  "canary_deny",
			Check: canaryDeny(kernel),
		},
		{
			Name:  "canary_allow",
			Check: canaryAllow(kernel, ledger),
		},
	}

	return &HeartbeatService{
		monitor: heartbeat.NewMonitor(probes, interval, logger),
	}
}

// Monitor exposes the underlying monitor for the pipeline's hot-path
// health check.
func (s *HeartbeatService) Monitor() *heartbeat.Monitor {
	return s.monitor
}

// Start begins the probe loop.
func (s *HeartbeatService) Start(ctx context.Context) {
	s.monitor.Start(ctx)
}

// Stop terminates the probe loop.
func (s *HeartbeatService) Stop() {
	s.monitor.Stop()
}

// canaryDeny submits a payload carrying a forbidden coordination
// marker; a kernel that lets it through is broken.
func canaryDeny(kernel *decision.Kernel) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		verdict := kernel.CheckAction(ctx, decision.Request{
			Actor:    canaryActor,
			ActionID: action.HealthCheck,
			Sanitized: map[string]interface{}{
				"type": "coordination_beacon",
			},
		}, time.Now())
		if verdict.Allowed {
			return errors.New("known-bad payload was allowed")
		}
		return nil
	}
}

// canaryAllow submits a benign health-check request; the minted token
// is redeemed immediately so the canary leaves no live authorization
// behind.
func canaryAllow(kernel *decision.Kernel, ledger capability.Ledger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		now := time.Now()
		verdict := kernel.CheckAction(ctx, decision.Request{
			Actor:     canaryActor,
			ActionID:  action.HealthCheck,
			Sanitized: map[string]interface{}{"probe": true},
		}, now)
		if !verdict.Allowed {
			return fmt.Errorf("known-safe request was denied: %s (%s)",
				verdict.Reason, verdict.Message)
		}
		if verdict.Token != nil {
			_, _ = ledger.Redeem(ctx, verdict.Token.ID, action.HealthCheck,
				verdict.Token.PayloadHash, now)
		}
		return nil
	}
}
