package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/action"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/receipt"
	"github.com/Covenant-Gate/Covenantgate/internal/service"
)

// maxBodyBytes caps the raw request body before JSON decoding. The
// ingress firewall enforces the canonical size cap; this guards the
// decoder itself.
const maxBodyBytes = 8 << 20

// idempotencyKeyHeader carries the client replay key.
const idempotencyKeyHeader = "X-Idempotency-Key"

// actionHandler serves POST /v1/actions/{action}: it maps the HTTP
// call onto a request envelope and runs the pipeline.
func actionHandler(pipeline *service.PipelineService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "no authenticated actor")
			return
		}

		actionID := r.PathValue("action")

		var payload map[string]interface{}
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := decoder.Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "request body is not a JSON object")
			return
		}

		headers := map[string]string{}
		if key := r.Header.Get(idempotencyKeyHeader); key != "" {
			headers["x-idempotency-key"] = key
		}

		env := action.Envelope{
			Actor:       identity.ID,
			ActionID:    actionID,
			Endpoint:    r.URL.Path,
			Payload:     payload,
			Headers:     headers,
			ArrivalTime: time.Now(),
			RequestID:   RequestIDFromContext(r.Context()),
		}

		resp := pipeline.Handle(r.Context(), env)
		writeResponse(w, resp)
	})
}

// receiptsHandler serves GET /v1/receipts/{job}: the chained receipts
// for one job in sequence order.
func receiptsHandler(chain receipt.Chain) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		jobID := r.PathValue("job")
		receipts, err := chain.ReadByJob(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "receipt read failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":   jobID,
			"receipts": receipts,
		})
	})
}

// writeResponse shapes a pipeline response onto the wire. Proof and
// receipt ride alongside the body so clients can verify the corridor.
func writeResponse(w http.ResponseWriter, resp service.Response) {
	body := map[string]interface{}{}
	for k, v := range resp.Body {
		body[k] = v
	}
	if resp.Proof != nil {
		body["proof"] = resp.Proof
	}
	if resp.Receipt != nil {
		body["receipt"] = map[string]interface{}{
			"sequence":  resp.Receipt.Sequence,
			"self_hash": resp.Receipt.SelfHash,
			"decision":  resp.Receipt.Decision,
		}
	}
	writeJSON(w, resp.StatusCode, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"allowed": false,
		"message": message,
	})
}
