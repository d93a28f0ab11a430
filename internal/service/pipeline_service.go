package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/canon"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/decision"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/firewall"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/gate"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/proof"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/reason"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
)

// PipelineMetrics records per-request pipeline outcomes. The HTTP
// adapter provides the Prometheus-backed implementation.
type PipelineMetrics interface {
	RecordDecision(actionID, decisionValue, reasonCode string)
	RecordStageDuration(stage string, d time.Duration)
}

// noopMetrics is used when no metrics sink is configured.
type noopMetrics struct{}

func (noopMetrics) RecordDecision(string, string, string)     {}
func (noopMetrics) RecordStageDuration(string, time.Duration) {}

// Response is the pipeline's normalized output for any transport.
type Response struct {
	// StatusCode is an HTTP-shaped status transports may map freely.
	StatusCode int
	// Body is the response payload: the sanitized handler output on
	// allow, or the structured error on deny.
	Body map[string]interface{}
	// Proof is the per-request stage transcript.
	Proof *proof.Proof
	// Receipt is the terminal receipt for this request.
	Receipt *receipt.Receipt
}

// PipelineService is the orchestrator: the single composition of
// ingress, decision, gate, output policy, and egress that every request
// flows through. Every terminal branch appends a chained receipt; there
// is no path from request to response without one.
type PipelineService struct {
	ingress      *firewall.Ingress
	egress       *firewall.Egress
	outputPolicy *firewall.OutputPolicy
	kernel       *decision.Kernel
	gate         *gate.Gate
	chain        receipt.Chain
	registry     *action.Registry
	monitor      *heartbeat.Monitor
	feed         *ReceiptFeed
	metrics      PipelineMetrics
	handlers     map[string]gate.Handler
	artifactID   string
	artifactVer  string
	logger       *slog.Logger
	tracer       trace.Tracer
}

// PipelineOption configures PipelineService.
type PipelineOption func(*PipelineService)

// WithPipelineMetrics sets the metrics sink.
func WithPipelineMetrics(m PipelineMetrics) PipelineOption {
	return func(p *PipelineService) {
		p.metrics = m
	}
}

// WithReceiptFeed attaches the async receipt notification feed.
func WithReceiptFeed(f *ReceiptFeed) PipelineOption {
	return func(p *PipelineService) {
		p.feed = f
	}
}

// NewPipelineService assembles the orchestrator.
func NewPipelineService(
	ingress *firewall.Ingress,
	egress *firewall.Egress,
	outputPolicy *firewall.OutputPolicy,
	kernel *decision.Kernel,
	g *gate.Gate,
	chain receipt.Chain,
	registry *action.Registry,
	monitor *heartbeat.Monitor,
	artifactID, artifactVersion string,
	logger *slog.Logger,
	opts ...PipelineOption,
) *PipelineService {
	p := &PipelineService{
		ingress:      ingress,
		egress:       egress,
		outputPolicy: outputPolicy,
		kernel:       kernel,
		gate:         g,
		chain:        chain,
		registry:     registry,
		monitor:      monitor,
		metrics:      noopMetrics{},
		handlers:     make(map[string]gate.Handler),
		artifactID:   artifactID,
		artifactVer:  artifactVersion,
		logger:       logger,
		tracer:       otel.Tracer("covenant-gate/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMetrics replaces the metrics sink. The composition root uses this
// when the sink is built by a transport that itself needs the pipeline.
// Call before serving begins.
func (p *PipelineService) SetMetrics(m PipelineMetrics) {
	if m != nil {
		p.metrics = m
	}
}

// RegisterHandler binds a handler closure to an action id.
func (p *PipelineService) RegisterHandler(actionID string, h gate.Handler) {
	p.handlers[actionID] = h
}

// Handle runs one envelope through the full pipeline.
func (p *PipelineService) Handle(ctx context.Context, env action.Envelope) Response {
	ctx, span := p.tracer.Start(ctx, "pipeline.handle",
		trace.WithAttributes(
			attribute.String("actor", env.Actor),
			attribute.String("action_id", env.ActionID),
		))
	defer span.End()

	now := env.ArrivalTime
	if now.IsZero() {
		now = time.Now()
	}

	pr := proof.NewAssembler(env.RequestID, env.Actor, env.ActionID, now)
	pr.SetJobID(env.RequestID)

	// Structural validation.
	if env.Actor == "" || env.ActionID == "" || env.Payload == nil {
		pr.Record(proof.StageDispatch, env.Payload, nil, false,
			reason.MalformedRequest, "envelope missing required fields")
		return p.deny(ctx, env, pr, proof.StageDispatch, reason.MalformedRequest,
			"envelope missing required fields", env.Payload)
	}

	// Fail-closed posture blocks everything except health checks.
	if !p.monitor.Healthy() && env.ActionID != action.HealthCheck {
		pr.Record(proof.StageHeartbeat, env.Payload, nil, false,
			reason.HeartbeatFailClosed, "process is fail-closed")
		return p.deny(ctx, env, pr, proof.StageHeartbeat, reason.HeartbeatFailClosed,
			"process is in fail-closed posture", env.Payload)
	}

	// Route resolution before any policy work: a request for an action
	// nobody handles cannot produce a side effect.
	handler, routed := p.handlers[env.ActionID]
	if !routed {
		if _, registered := p.registry.Lookup(env.ActionID); !registered {
			pr.Record(proof.StageDispatch, env.Payload, nil, false,
				reason.UnregisteredAction, "action not in registry")
			return p.deny(ctx, env, pr, proof.StageDispatch, reason.UnregisteredAction,
				"action is not registered", env.Payload)
		}
		pr.Record(proof.StageDispatch, env.Payload, nil, false,
			reason.RouteNotFound, "no handler for action")
		return p.deny(ctx, env, pr, proof.StageDispatch, reason.RouteNotFound,
			"no handler is bound to this action", env.Payload)
	}

	// Stage 1: ingress firewall.
	ingressRes, ingressErr := p.stageIngress(ctx, env, now)
	if ingressErr != nil {
		pr.Record(proof.StageIngress, env.Payload, nil, false,
			reason.UncertainFailClosed, ingressErr.Error())
		return p.deny(ctx, env, pr, proof.StageIngress, reason.UncertainFailClosed,
			"ingress inspection failed", env.Payload)
	}
	if !ingressRes.Allowed {
		code := ingressDenialCode(ingressRes)
		pr.Record(proof.StageIngress, env.Payload, nil, false, code,
			joinViolations(ingressRes.Violations))
		resp := p.deny(ctx, env, pr, proof.StageIngress, code,
			joinViolations(ingressRes.Violations), env.Payload)
		resp.Body["violations"] = ingressRes.Violations
		resp.Body["quarantined"] = ingressRes.Quarantined
		if code == reason.CIFRateLimited {
			resp.Body["remaining"] = ingressRes.RateRemaining
			resp.Body["retry_after_ms"] = ingressRes.RetryAfter.Milliseconds()
		}
		return resp
	}
	pr.Record(proof.StageIngress, env.Payload, ingressRes.Sanitized, true, "", "")

	// Stage 2: decision kernel.
	verdict := p.stageDecision(ctx, env, ingressRes.Sanitized, now)
	if !verdict.Allowed {
		pr.Record(proof.StageDecision, ingressRes.Sanitized, nil, false,
			verdict.Reason, verdict.Message)
		return p.deny(ctx, env, pr, proof.StageDecision, verdict.Reason,
			verdict.Message, ingressRes.Sanitized)
	}
	pr.Record(proof.StageDecision, ingressRes.Sanitized, nil, true, "", verdict.CapabilityID)

	// Stage 3: gated execution.
	act, _ := p.registry.Lookup(env.ActionID)
	gateRes, release := p.stageGate(ctx, env, act, verdict, ingressRes.Sanitized, handler, now)
	if !gateRes.Allowed {
		pr.Record(proof.StageGate, ingressRes.Sanitized, nil, false,
			gateRes.Reason, gateRes.Message)
		resp := p.denyWithNote(ctx, env, pr, proof.StageGate, gateRes.Reason,
			gateRes.Message, gateRes.Note, ingressRes.Sanitized)
		release()
		return resp
	}
	pr.Record(proof.StageGate, ingressRes.Sanitized, gateRes.Response, true, "",
		gateDetail(gateRes))

	response := gateRes.Response
	if response == nil {
		response = map[string]interface{}{}
	}

	// Stage 4: output policy.
	outRes := p.stageOutputPolicy(ctx, response)
	if !outRes.Allowed {
		pr.Record(proof.StageOutput, response, nil, false,
			reason.CDIPersonhoodViolation, joinViolations(outRes.Violations))
		resp := p.deny(ctx, env, pr, proof.StageOutput,
			reason.CDIPersonhoodViolation, joinViolations(outRes.Violations), response)
		release()
		return resp
	}
	pr.Record(proof.StageOutput, response, nil, true, "", "")

	// Stage 5: egress firewall.
	egressRes, egressErr := p.stageEgress(ctx, env, response)
	if egressErr != nil {
		pr.Record(proof.StageEgress, response, nil, false,
			reason.UncertainFailClosed, egressErr.Error())
		resp := p.deny(ctx, env, pr, proof.StageEgress, reason.UncertainFailClosed,
			"egress inspection failed", response)
		release()
		return resp
	}
	if !egressRes.Allowed {
		code := reason.CIFEgressBlocked
		if len(egressRes.Leaks) > 0 {
			code = reason.CIFLeakDetected
		}
		pr.Record(proof.StageEgress, response, egressRes.Sanitized, false, code,
			joinViolations(egressRes.Violations))
		resp := p.deny(ctx, env, pr, proof.StageEgress, code,
			joinViolations(egressRes.Violations), response)
		resp.Body["violations"] = egressRes.Violations
		resp.Body["leaks"] = egressRes.Leaks
		release()
		return resp
	}
	pr.Record(proof.StageEgress, response, egressRes.Sanitized, true, "",
		joinViolations(egressRes.Leaks))

	// Terminal allow: seal the proof, append the receipt, then release.
	decisionValue := receipt.DecisionAllow
	if len(egressRes.Leaks) > 0 {
		decisionValue = receipt.DecisionTransform
	}
	sealed, err := pr.Seal(decisionValue, "")
	if err != nil {
		p.logger.Error("proof seal failed", "error", err, "request", env.RequestID)
	}

	rec := p.appendReceipt(ctx, env, proof.StageEgress, decisionValue,
		"", verdict.CapabilityID, egressRes.Sanitized, sealed.Summary())
	release()

	p.metrics.RecordDecision(env.ActionID, decisionValue, "")

	body := egressRes.Sanitized
	if body == nil {
		body = map[string]interface{}{}
	}
	if gateRes.Replayed {
		body["replayed"] = true
	}
	return Response{
		StatusCode: http.StatusOK,
		Body:       body,
		Proof:      &sealed,
		Receipt:    rec,
	}
}

// --- stages ---

func (p *PipelineService) stageIngress(ctx context.Context, env action.Envelope, now time.Time) (firewall.IngressResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ingress")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStageDuration(proof.StageIngress, time.Since(start)) }()

	return p.ingress.Inspect(ctx, env.Actor, env.Endpoint, env.Payload, now)
}

func (p *PipelineService) stageDecision(ctx context.Context, env action.Envelope, sanitized map[string]interface{}, now time.Time) decision.Verdict {
	ctx, span := p.tracer.Start(ctx, "pipeline.decide")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStageDuration(proof.StageDecision, time.Since(start)) }()

	requestHash, _ := canon.Digest(env.Payload)
	return p.kernel.CheckAction(ctx, decision.Request{
		Actor:       env.Actor,
		ActionID:    env.ActionID,
		Sanitized:   sanitized,
		Route:       env.Endpoint,
		RequestHash: requestHash,
	}, now)
}

func (p *PipelineService) stageGate(
	ctx context.Context,
	env action.Envelope,
	act action.Action,
	verdict decision.Verdict,
	sanitized map[string]interface{},
	handler gate.Handler,
	now time.Time,
) (gate.Result, gate.Release) {
	ctx, span := p.tracer.Start(ctx, "pipeline.gate")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStageDuration(proof.StageGate, time.Since(start)) }()

	return p.gate.Execute(ctx, gate.Request{
		JobID:          env.RequestID,
		Actor:          env.Actor,
		ActionID:       env.ActionID,
		Endpoint:       env.Endpoint,
		TokenID:        verdict.Token.ID,
		Payload:        sanitized,
		PayloadHash:    verdict.Token.PayloadHash,
		IdempotencyKey: env.IdempotencyKey(),
		SideEffecting:  act.SideEffecting,
	}, handler, now)
}

func (p *PipelineService) stageOutputPolicy(ctx context.Context, response map[string]interface{}) firewall.OutputPolicyResult {
	_, span := p.tracer.Start(ctx, "pipeline.output_policy")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStageDuration(proof.StageOutput, time.Since(start)) }()

	return p.outputPolicy.Inspect(response)
}

func (p *PipelineService) stageEgress(ctx context.Context, env action.Envelope, response map[string]interface{}) (firewall.EgressResult, error) {
	_, span := p.tracer.Start(ctx, "pipeline.egress")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RecordStageDuration(proof.StageEgress, time.Since(start)) }()

	return p.egress.Inspect(env.Actor, env.Endpoint, response)
}

// --- terminal helpers ---

// deny seals the proof, appends the denial receipt, and shapes the
// error response. Responses carry only the reason code and a short
// message; diagnostic detail stays in the receipt.
func (p *PipelineService) deny(
	ctx context.Context,
	env action.Envelope,
	pr *proof.Assembler,
	stage string,
	code reason.Code,
	message string,
	payload map[string]interface{},
) Response {
	return p.denyWithNote(ctx, env, pr, stage, code, message, "", payload)
}

func (p *PipelineService) denyWithNote(
	ctx context.Context,
	env action.Envelope,
	pr *proof.Assembler,
	stage string,
	code reason.Code,
	message, note string,
	payload map[string]interface{},
) Response {
	sealed, err := pr.Seal(receipt.DecisionDeny, code)
	if err != nil {
		p.logger.Error("proof seal failed", "error", err, "request", env.RequestID)
	}

	notes := sealed.Summary()
	notes["message"] = message
	if note != "" {
		notes["note"] = note
	}

	rec := p.appendReceipt(ctx, env, stage, receipt.DecisionDeny, code, "", payload, notes)
	p.metrics.RecordDecision(env.ActionID, receipt.DecisionDeny, string(code))

	p.logger.Info("request denied",
		"actor", env.Actor,
		"action", env.ActionID,
		"stage", stage,
		"reason", code,
		"request", env.RequestID,
	)

	return Response{
		StatusCode: statusFor(code),
		Body: map[string]interface{}{
			"allowed": false,
			"reason":  string(code),
			"message": message,
		},
		Proof:   &sealed,
		Receipt: rec,
	}
}

// appendReceipt appends one chained receipt. A chain failure is logged
// and leaves the returned receipt nil; callers still answer the client,
// but the heartbeat's chain probe will fail-close the process.
func (p *PipelineService) appendReceipt(
	ctx context.Context,
	env action.Envelope,
	stage, decisionValue string,
	code reason.Code,
	policyID string,
	payload map[string]interface{},
	notes map[string]interface{},
) *receipt.Receipt {
	digest := ""
	if payload != nil {
		if d, err := canon.Digest(payload); err == nil {
			digest = d
		}
	}

	rec, err := p.chain.Append(ctx, receipt.Receipt{
		Timestamp:       time.Now(),
		JobID:           env.RequestID,
		Stage:           stage,
		ActionID:        env.ActionID,
		Decision:        decisionValue,
		ReasonCode:      code,
		PolicyID:        policyID,
		ArtifactID:      p.artifactID,
		ArtifactVersion: p.artifactVer,
		PayloadDigest:   digest,
		Notes:           notes,
		RequestID:       env.RequestID,
	})
	if err != nil {
		p.logger.Error("receipt append failed", "error", err, "request", env.RequestID)
		return nil
	}

	if p.feed != nil {
		p.feed.Publish(rec.Sequence, rec.JobID, rec.Stage, rec.Decision, string(rec.ReasonCode))
	}
	return &rec
}

// ingressDenialCode maps an ingress result to its reason code.
func ingressDenialCode(res firewall.IngressResult) reason.Code {
	if res.Quarantined {
		return reason.CIFQuarantined
	}
	for _, v := range res.Violations {
		if v == firewall.ViolationRateLimited {
			return reason.CIFRateLimited
		}
	}
	return reason.CIFIngressBlocked
}

// statusFor maps reason codes to HTTP-shaped statuses.
func statusFor(code reason.Code) int {
	switch code {
	case reason.MalformedRequest:
		return http.StatusBadRequest
	case reason.RouteNotFound, reason.UnregisteredAction:
		return http.StatusNotFound
	case reason.CIFRateLimited, reason.JobConcurrencyLimit:
		return http.StatusTooManyRequests
	case reason.HeartbeatFailClosed, reason.TreatyUnavailable:
		return http.StatusServiceUnavailable
	case reason.UncertainFailClosed:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func joinViolations(violations []string) string {
	switch len(violations) {
	case 0:
		return ""
	case 1:
		return violations[0]
	default:
		out := violations[0]
		for _, v := range violations[1:] {
			out += "; " + v
		}
		return out
	}
}

func gateDetail(res gate.Result) string {
	if res.Replayed {
		return "replayed stored response"
	}
	return ""
}
