package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/capability"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordLedger captures minted tokens.
type recordLedger struct {
	minted []capability.Token
	fail   bool
}

func (r *recordLedger) Mint(_ context.Context, t capability.Token) error {
	if r.fail {
		return errors.New("mint failed")
	}
	r.minted = append(r.minted, t)
	return nil
}

func (r *recordLedger) Redeem(context.Context, string, string, string, time.Time) (capability.RedeemOutcome, error) {
	return capability.RedeemTokenMissing, nil
}

func (r *recordLedger) GC(context.Context, time.Time) (int, error) { return 0, nil }

// stubCond evaluates grant conditions against a scripted table.
type stubCond struct {
	results map[string]bool
	errs    map[string]error
}

func (s stubCond) Evaluate(expr string, _ ConditionInput) (bool, error) {
	if err, ok := s.errs[expr]; ok {
		return false, err
	}
	return s.results[expr], nil
}

func (s stubCond) ValidateExpression(string) error { return nil }

var (
	_ capability.Ledger  = (*recordLedger)(nil)
	_ ConditionEvaluator = stubCond{}
)

func testArtifact() *genome.Artifact {
	return &genome.Artifact{
		Schema:  genome.SchemaVersion,
		Name:    "treaty-test",
		Version: "1.0.0",
		Capabilities: []genome.Capability{
			{ID: "cap:jobs", RiskClass: "high", Allow: []string{action.JobRun, action.JobCancel}},
			{ID: "cap:memory", RiskClass: "medium", Allow: []string{action.MemoryCreate, action.MemoryQuery}},
		},
	}
}

func testKernel(artifact *genome.Artifact, consents *consent.Store, ledger capability.Ledger, cond ConditionEvaluator) *Kernel {
	if consents == nil {
		consents = consent.NewStore(nil)
	}
	if ledger == nil {
		ledger = &recordLedger{}
	}
	if cond == nil {
		cond = stubCond{}
	}
	return NewKernel(artifact, action.DefaultRegistry(), consents, ledger, cond, testLogger())
}

func testRequest(actionID string) Request {
	return Request{
		Actor:    "worker-1",
		ActionID: actionID,
		Sanitized: map[string]interface{}{
			"job": "build",
		},
		Route:  "/v1/actions/run",
		Method: "POST",
	}
}

func TestKernel_AllowMintsToken(t *testing.T) {
	t.Parallel()

	ledger := &recordLedger{}
	k := testKernel(testArtifact(), nil, ledger, nil)

	v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
	if !v.Allowed {
		t.Fatalf("CheckAction() denied: %s %s", v.Reason, v.Message)
	}
	if v.Token == nil {
		t.Fatal("allow verdict should carry a token")
	}
	if v.CapabilityID != "cap:jobs" {
		t.Errorf("CapabilityID = %q, want cap:jobs", v.CapabilityID)
	}
	if len(ledger.minted) != 1 {
		t.Fatalf("minted %d tokens, want 1", len(ledger.minted))
	}
	minted := ledger.minted[0]
	if minted.ID != v.Token.ID {
		t.Error("minted token should match the verdict token")
	}
	if minted.ActionID != action.JobRun || minted.Actor != "worker-1" {
		t.Errorf("token binding = %s/%s", minted.ActionID, minted.Actor)
	}
	if minted.PayloadHash == "" {
		t.Error("token should be bound to the sanitized payload hash")
	}
}

func TestKernel_NilArtifactFailsClosed(t *testing.T) {
	t.Parallel()

	k := testKernel(nil, nil, nil, nil)

	v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
	if v.Allowed {
		t.Fatal("kernel without an artifact must deny")
	}
	if v.Reason != reason.TreatyUnavailable {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.TreatyUnavailable)
	}
	if k.Ready() {
		t.Error("Ready() should be false without an artifact")
	}
}

func TestKernel_AnchorStopBlocks(t *testing.T) {
	t.Parallel()

	consents := consent.NewStore([]string{"anchor"})
	consents.Record(consent.Signal{Actor: "anchor", Kind: consent.KindStop, At: time.Now()})
	k := testKernel(testArtifact(), consents, nil, nil)

	v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
	if v.Allowed {
		t.Fatal("anchor stop must deny")
	}
	if v.Reason != reason.ConsentStopActive {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.ConsentStopActive)
	}
	if !strings.Contains(v.Message, "anchor") {
		t.Errorf("Message = %q, want mention of the anchor", v.Message)
	}
}

func TestKernel_UnregisteredAction(t *testing.T) {
	t.Parallel()

	k := testKernel(testArtifact(), nil, nil, nil)

	v := k.CheckAction(context.Background(), testRequest("action:fs:delete"), time.Now())
	if v.Allowed {
		t.Fatal("unregistered action must deny")
	}
	if v.Reason != reason.UnregisteredAction {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.UnregisteredAction)
	}
}

func TestKernel_NoGrantDenies(t *testing.T) {
	t.Parallel()

	// The artifact grants only job actions; an interpret request has no
	// covering capability.
	k := testKernel(testArtifact(), nil, nil, nil)

	v := k.CheckAction(context.Background(), testRequest(action.OIInterpret), time.Now())
	if v.Allowed {
		t.Fatal("ungranted action must deny")
	}
	if v.Reason != reason.CDIActionDenied {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.CDIActionDenied)
	}
}

func TestKernel_DenyListOverridesAllow(t *testing.T) {
	t.Parallel()

	artifact := testArtifact()
	artifact.Capabilities[0].Deny = []string{action.JobRun}
	k := testKernel(artifact, nil, nil, nil)

	v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
	if v.Allowed {
		t.Fatal("deny-listed action must deny")
	}
	if v.Reason != reason.CDIActionDenied {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.CDIActionDenied)
	}
}

func TestKernel_GrantConditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cond    ConditionEvaluator
		allowed bool
	}{
		{"condition true", stubCond{results: map[string]bool{"risk_ok": true}}, true},
		{"condition false", stubCond{results: map[string]bool{"risk_ok": false}}, false},
		{
			"evaluation error fails closed",
			stubCond{errs: map[string]error{"risk_ok": errors.New("bad expr")}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := testArtifact()
			artifact.Capabilities[0].When = "risk_ok"
			k := testKernel(artifact, nil, nil, tt.cond)

			v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
			if v.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v (%s %s)", v.Allowed, tt.allowed, v.Reason, v.Message)
			}
			if !tt.allowed && v.Reason != reason.CDIActionDenied {
				t.Errorf("Reason = %s, want %s", v.Reason, reason.CDIActionDenied)
			}
		})
	}
}

func TestKernel_HiveMarkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"peer instances key", map[string]interface{}{"peer_instances": []interface{}{"a", "b"}}},
		{"coordination beacon key", map[string]interface{}{"coordination_beacon": "on"}},
		{"beacon type value", map[string]interface{}{"type": "coordination_beacon"}},
		{"hive sync type value", map[string]interface{}{"type": "hive_sync"}},
		{"nested marker", map[string]interface{}{"outer": map[string]interface{}{"peer_instances": true}}},
		{"marker inside list", map[string]interface{}{"items": []interface{}{map[string]interface{}{"type": "hive_sync"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := testKernel(testArtifact(), nil, nil, nil)

			req := testRequest(action.JobRun)
			req.Sanitized = tt.payload
			v := k.CheckAction(context.Background(), req, time.Now())
			if v.Allowed {
				t.Fatal("hive marker must deny")
			}
			if v.Reason != reason.CDIHiveForbidden {
				t.Errorf("Reason = %s, want %s", v.Reason, reason.CDIHiveForbidden)
			}
		})
	}
}

func TestKernel_MintFailureFailsClosed(t *testing.T) {
	t.Parallel()

	k := testKernel(testArtifact(), nil, &recordLedger{fail: true}, nil)

	v := k.CheckAction(context.Background(), testRequest(action.JobRun), time.Now())
	if v.Allowed {
		t.Fatal("mint failure must deny")
	}
	if v.Reason != reason.UncertainFailClosed {
		t.Errorf("Reason = %s, want %s", v.Reason, reason.UncertainFailClosed)
	}
}

func TestKernel_Deterministic(t *testing.T) {
	t.Parallel()

	k := testKernel(testArtifact(), nil, nil, nil)
	req := testRequest(action.MemoryQuery)

	first := k.CheckAction(context.Background(), req, time.Now())
	for i := 0; i < 5; i++ {
		v := k.CheckAction(context.Background(), req, time.Now())
		if v.Allowed != first.Allowed || v.Reason != first.Reason || v.CapabilityID != first.CapabilityID {
			t.Fatalf("verdict %d diverged: %+v vs %+v", i, v, first)
		}
	}
}
