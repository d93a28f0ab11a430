// Package rpc provides the JSON-RPC inbound adapter: a line-delimited
// transport over an arbitrary stream (stdio or a socket) that maps
// corridor.* methods onto the pipeline.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/heartbeat"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
	"github.com/Covenant-Gate/Covenantgate/internal/service"
	"github.com/Covenant-Gate/Covenantgate/pkg/rpc"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
)

// Server serves line-delimited JSON-RPC over a reader/writer pair.
type Server struct {
	pipeline *service.PipelineService
	chain    receipt.Chain
	monitor  *heartbeat.Monitor
	keys     *auth.APIKeyService
	logger   *slog.Logger

	writeMu sync.Mutex
}

// NewServer creates an RPC server over the pipeline.
func NewServer(
	pipeline *service.PipelineService,
	chain receipt.Chain,
	monitor *heartbeat.Monitor,
	keys *auth.APIKeyService,
	logger *slog.Logger,
) *Server {
	return &Server{
		pipeline: pipeline,
		chain:    chain,
		monitor:  monitor,
		keys:     keys,
		logger:   logger,
	}
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), rpc.MaxFrameBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Copy: the scanner reuses its buffer across iterations.
		raw := make([]byte, len(line))
		copy(raw, line)

		s.handleLine(ctx, raw, w)
	}
	return scanner.Err()
}

// handleLine processes one request line and writes exactly one
// response line.
func (s *Server) handleLine(ctx context.Context, raw []byte, w io.Writer) {
	msg, err := rpc.WrapMessage(raw)
	if err != nil {
		s.writeErrorRaw(w, nil, codeParseError, "parse error")
		return
	}
	if !msg.IsRequest() {
		s.writeErrorRaw(w, msg.RawID(), codeInvalidRequest, "expected a request")
		return
	}

	switch msg.Method() {
	case rpc.MethodInvoke:
		s.handleInvoke(ctx, msg, w)
	case rpc.MethodReceipts:
		s.handleReceipts(ctx, msg, w)
	case rpc.MethodHealth:
		s.handleHealth(msg, w)
	default:
		s.writeErrorRaw(w, msg.RawID(), codeMethodNotFound,
			fmt.Sprintf("unknown method %q", msg.Method()))
	}
}

// handleInvoke maps corridor.invoke onto a request envelope.
func (s *Server) handleInvoke(ctx context.Context, msg *rpc.Message, w io.Writer) {
	identity, ok := s.authenticate(ctx, msg, w)
	if !ok {
		return
	}

	params := msg.ParseParams()
	actionID, _ := params["action_id"].(string)
	payload, _ := params["payload"].(map[string]interface{})
	if actionID == "" || payload == nil {
		s.writeErrorRaw(w, msg.RawID(), codeInvalidParams,
			"params require action_id and payload")
		return
	}

	headers := map[string]string{}
	if key, ok := params["idempotency_key"].(string); ok && key != "" {
		headers["x-idempotency-key"] = key
	}

	env := action.Envelope{
		Actor:       identity.ID,
		ActionID:    actionID,
		Endpoint:    "rpc:" + rpc.MethodInvoke,
		Payload:     payload,
		Headers:     headers,
		ArrivalTime: msg.Timestamp,
		RequestID:   uuid.NewString(),
	}

	resp := s.pipeline.Handle(ctx, env)

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        resp.Body,
		"request_id":  env.RequestID,
	}
	if resp.Proof != nil {
		result["proof"] = resp.Proof
	}
	if resp.Receipt != nil {
		result["receipt"] = map[string]interface{}{
			"sequence":  resp.Receipt.Sequence,
			"self_hash": resp.Receipt.SelfHash,
			"decision":  resp.Receipt.Decision,
		}
	}
	s.writeResult(w, msg.RawID(), result)
}

// handleReceipts maps corridor.receipts onto a chain read.
func (s *Server) handleReceipts(ctx context.Context, msg *rpc.Message, w io.Writer) {
	if _, ok := s.authenticate(ctx, msg, w); !ok {
		return
	}

	params := msg.ParseParams()
	jobID, _ := params["job_id"].(string)
	if jobID == "" {
		s.writeErrorRaw(w, msg.RawID(), codeInvalidParams, "params require job_id")
		return
	}

	receipts, err := s.chain.ReadByJob(ctx, jobID)
	if err != nil {
		s.writeErrorRaw(w, msg.RawID(), codeInvalidRequest, "receipt read failed")
		return
	}

	s.writeResult(w, msg.RawID(), map[string]interface{}{
		"job_id":   jobID,
		"receipts": receipts,
	})
}

// handleHealth reports the heartbeat status without authentication,
// matching the HTTP /healthz surface.
func (s *Server) handleHealth(msg *rpc.Message, w io.Writer) {
	status := s.monitor.Status()
	state := "healthy"
	if !status.Healthy {
		state = "fail_closed"
	}
	s.writeResult(w, msg.RawID(), map[string]interface{}{
		"status":   state,
		"failures": status.Failures,
		"last_run": status.LastRun.UTC().Format(time.RFC3339),
	})
}

// authenticate resolves the in-params credential to an actor.
func (s *Server) authenticate(ctx context.Context, msg *rpc.Message, w io.Writer) (*auth.Identity, bool) {
	rawKey := msg.ExtractAPIKey()
	if rawKey == "" {
		s.writeErrorRaw(w, msg.RawID(), codeUnauthorized, "missing api key")
		return nil, false
	}
	identity, err := s.keys.Validate(ctx, rawKey)
	if err != nil {
		s.writeErrorRaw(w, msg.RawID(), codeUnauthorized, "invalid api key")
		return nil, false
	}
	return identity, true
}

// wireResponse is assembled by hand so the original request ID bytes
// round-trip unchanged.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeResult(w io.Writer, id json.RawMessage, result interface{}) {
	s.writeLine(w, wireResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result})
}

func (s *Server) writeErrorRaw(w io.Writer, id json.RawMessage, code int, message string) {
	s.writeLine(w, wireResponse{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &wireError{Code: code, Message: message},
	})
}

func (s *Server) writeLine(w io.Writer, resp wireResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("rpc response encode failed", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Warn("rpc response write failed", "error", err)
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
