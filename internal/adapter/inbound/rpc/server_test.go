package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/cel"
	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/memory"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/firewall"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/gate"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/genome"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/ratelimit"
	"github.com/Covenant-Gate/Covenantgate/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRawKey = "rpc-test-key-0123456789"

func newTestServer(t *testing.T) (*Server, *memory.ReceiptStore) {
	t.Helper()

	logger := testLogger()
	registry := action.DefaultRegistry()
	artifact := genome.DevArtifact(registry.IDs())
	ledger := memory.NewTokenLedger()
	chain := memory.NewReceiptStore()

	cond, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("cel.NewEvaluator() error: %v", err)
	}

	kernel := decision.NewKernel(artifact, registry, consent.NewStore(nil), ledger, cond, logger)
	ingress := firewall.NewIngress(firewall.IngressConfig{
		RateLimit: ratelimit.Config{Window: time.Second, MaxRequests: 1000},
	}, memory.NewRateLimiter(), logger)

	monitor := heartbeat.NewMonitor(nil, time.Hour, logger)
	monitor.RunOnce(context.Background())

	pipeline := service.NewPipelineService(
		ingress,
		firewall.NewEgress(firewall.EgressConfig{}, logger),
		firewall.NewOutputPolicy(logger),
		kernel,
		gate.NewGate(ledger, memory.NewIdempotencyStore(0), gate.Config{}, logger),
		chain, registry, monitor, artifact.ID(), artifact.Version, logger)
	pipeline.RegisterHandler(action.HealthCheck, service.HealthHandler())
	pipeline.RegisterHandler(action.OIInterpret, service.InterpretHandler())

	ctx := context.Background()
	store := memory.NewAuthStore()
	if err := store.PutIdentity(ctx, &auth.Identity{ID: "worker-1", Name: "Worker One"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAPIKey(ctx, &auth.APIKey{
		Key:       auth.HashKey(testRawKey),
		ActorID:   "worker-1",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	return NewServer(pipeline, chain, monitor, auth.NewAPIKeyService(store), logger), chain
}

// serve feeds request lines through the server and returns one decoded
// response per non-blank input line.
func serve(t *testing.T, s *Server, lines ...string) []map[string]interface{} {
	t.Helper()

	var out bytes.Buffer
	input := strings.Join(lines, "\n") + "\n"
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	var responses []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]interface{}
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("response line %q is not JSON: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func errorCode(resp map[string]interface{}) int {
	errObj, _ := resp["error"].(map[string]interface{})
	code, _ := errObj["code"].(float64)
	return int(code)
}

func TestServer_InvokeAllowed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s,
		`{"jsonrpc":"2.0","id":7,"method":"corridor.invoke","params":{"_meta":{"apiKey":"`+testRawKey+`"},"action_id":"action:health:check","payload":{}}}`)

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	resp := responses[0]
	if resp["id"] != float64(7) {
		t.Errorf("id = %v, want 7", resp["id"])
	}

	result, _ := resp["result"].(map[string]interface{})
	if result == nil {
		t.Fatalf("response = %v, want a result", resp)
	}
	if result["status_code"] != float64(200) {
		t.Errorf("status_code = %v, want 200", result["status_code"])
	}
	body, _ := result["body"].(map[string]interface{})
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	rcpt, _ := result["receipt"].(map[string]interface{})
	if rcpt["decision"] != "allow" {
		t.Errorf("receipt = %v", result["receipt"])
	}
}

func TestServer_InvokeDeniedActionSurfacesStatus(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"corridor.invoke","params":{"apiKey":"`+testRawKey+`","action_id":"action:unknown:thing","payload":{}}}`)

	result, _ := responses[0]["result"].(map[string]interface{})
	if result == nil {
		t.Fatalf("response = %v, want a result", responses[0])
	}
	if result["status_code"] != float64(404) {
		t.Errorf("status_code = %v, want 404", result["status_code"])
	}
	body, _ := result["body"].(map[string]interface{})
	if body["reason"] != "UNREGISTERED_ACTION" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_AuthAndParamErrors(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		line     string
		wantCode int
	}{
		{
			"missing api key",
			`{"jsonrpc":"2.0","id":1,"method":"corridor.invoke","params":{"action_id":"action:health:check","payload":{}}}`,
			codeUnauthorized,
		},
		{
			"invalid api key",
			`{"jsonrpc":"2.0","id":2,"method":"corridor.invoke","params":{"apiKey":"wrong","action_id":"action:health:check","payload":{}}}`,
			codeUnauthorized,
		},
		{
			"missing action_id",
			`{"jsonrpc":"2.0","id":3,"method":"corridor.invoke","params":{"apiKey":"` + testRawKey + `","payload":{}}}`,
			codeInvalidParams,
		},
		{
			"missing payload",
			`{"jsonrpc":"2.0","id":4,"method":"corridor.invoke","params":{"apiKey":"` + testRawKey + `","action_id":"action:health:check"}}`,
			codeInvalidParams,
		},
		{
			"unknown method",
			`{"jsonrpc":"2.0","id":5,"method":"corridor.nope","params":{}}`,
			codeMethodNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			responses := serve(t, s, tt.line)
			if len(responses) != 1 {
				t.Fatalf("got %d responses, want 1", len(responses))
			}
			if code := errorCode(responses[0]); code != tt.wantCode {
				t.Errorf("error code = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestServer_ParseErrorAnswersNullID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s, `this is not json`)

	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if code := errorCode(responses[0]); code != codeParseError {
		t.Errorf("error code = %d, want %d", code, codeParseError)
	}
	if id, present := responses[0]["id"]; !present || id != nil {
		t.Errorf("id = %v, want null", id)
	}
}

func TestServer_HealthNeedsNoAuth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s, `{"jsonrpc":"2.0","id":"h1","method":"corridor.health"}`)

	result, _ := responses[0]["result"].(map[string]interface{})
	if result == nil || result["status"] != "healthy" {
		t.Errorf("response = %v", responses[0])
	}
	if responses[0]["id"] != "h1" {
		t.Errorf("id = %v, want h1", responses[0]["id"])
	}
}

func TestServer_ReceiptsByJob(t *testing.T) {
	t.Parallel()

	s, chain := newTestServer(t)

	// Run an invoke so the chain holds receipts for a real job.
	serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"corridor.invoke","params":{"apiKey":"`+testRawKey+`","action_id":"action:health:check","payload":{}}}`)

	tail, err := chain.ReadRange(context.Background(), 0, 10)
	if err != nil || len(tail) == 0 {
		t.Fatalf("ReadRange() = %d receipts, err %v", len(tail), err)
	}
	jobID := tail[len(tail)-1].JobID

	responses := serve(t, s,
		`{"jsonrpc":"2.0","id":2,"method":"corridor.receipts","params":{"apiKey":"`+testRawKey+`","job_id":"`+jobID+`"}}`)
	result, _ := responses[0]["result"].(map[string]interface{})
	if result == nil {
		t.Fatalf("response = %v, want a result", responses[0])
	}
	if result["job_id"] != jobID {
		t.Errorf("job_id = %v, want %q", result["job_id"], jobID)
	}
	receipts, _ := result["receipts"].([]interface{})
	if len(receipts) == 0 {
		t.Error("result should include the job's receipts")
	}
}

func TestServer_SkipsBlankLinesAndKeepsServing(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s,
		``,
		`{"jsonrpc":"2.0","id":1,"method":"corridor.health"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"corridor.health"}`)

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
}

func TestServer_RejectsResponseMessages(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	responses := serve(t, s, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)

	if code := errorCode(responses[0]); code != codeInvalidRequest {
		t.Errorf("error code = %d, want %d", code, codeInvalidRequest)
	}
}
