package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/cel"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/memory"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

func newHeartbeatService(t *testing.T, artifact *genome.Artifact, chain receipt.Chain) *HeartbeatService {
	t.Helper()

	logger := testLogger()
	registry := action.DefaultRegistry()
	ledger := memory.NewTokenLedger()
	cond, err := cel.NewEvaluator()
	if err != nil {
		t.Fatal(err)
	}
	kernel := decision.NewKernel(artifact, registry, consent.NewStore(nil), ledger, cond, logger)
	return NewHeartbeatService(artifact, registry, kernel, chain, ledger, time.Hour, logger)
}

func TestHeartbeatService_HealthyStack(t *testing.T) {
	t.Parallel()

	registry := action.DefaultRegistry()
	hb := newHeartbeatService(t, genome.DevArtifact(registry.IDs()), memory.NewReceiptStore())

	if !hb.Monitor().RunOnce(context.Background()) {
		t.Fatalf("probes failed on a healthy stack: %v", hb.Monitor().Status().Failures)
	}
}

func TestHeartbeatService_NilArtifactFailsClosed(t *testing.T) {
	t.Parallel()

	hb := newHeartbeatService(t, nil, memory.NewReceiptStore())

	if hb.Monitor().RunOnce(context.Background()) {
		t.Fatal("probes should fail without a policy artifact")
	}

	failures := hb.Monitor().Status().Failures
	found := map[string]bool{}
	for _, f := range failures {
		found[f] = true
	}
	for _, want := range []string{"artifact_loaded", "kernel_ready", "canary_allow"} {
		if !found[want] {
			t.Errorf("failures = %v, want to include %q", failures, want)
		}
	}
}

func TestHeartbeatService_UngrantedHealthCheckFailsCanary(t *testing.T) {
	t.Parallel()

	// An artifact that grants jobs but not health checks starves the
	// allow canary.
	artifact := genome.DevArtifact([]string{action.JobRun})
	hb := newHeartbeatService(t, artifact, memory.NewReceiptStore())

	if hb.Monitor().RunOnce(context.Background()) {
		t.Fatal("allow canary should fail when health checks are ungranted")
	}

	found := false
	for _, f := range hb.Monitor().Status().Failures {
		if f == "canary_allow" {
			found = true
		}
	}
	if !found {
		t.Errorf("failures = %v, want canary_allow", hb.Monitor().Status().Failures)
	}
}

func TestHeartbeatService_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	registry := action.DefaultRegistry()
	hb := newHeartbeatService(t, genome.DevArtifact(registry.IDs()), memory.NewReceiptStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hb.Start(ctx)
	if !hb.Monitor().Healthy() {
		t.Error("monitor should be healthy after Start's initial run")
	}
	hb.Stop()
}
