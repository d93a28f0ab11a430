// Package action defines the closed registry of canonical action ids.
// Every request flowing through the pipeline names exactly one
// registered action; unregistered actions are always denied.
package action

import "time"

// RiskClass categorizes how dangerous an action is.
type RiskClass string

const (
	// RiskLow covers read-only or advisory actions.
	RiskLow RiskClass = "low"
	// RiskMedium covers actions that write bounded state.
	RiskMedium RiskClass = "medium"
	// RiskHigh covers actions that execute jobs or reach external systems.
	RiskHigh RiskClass = "high"
)

// Canonical action ids. The set is frozen at process start; amendments
// require a treaty amendment and a new build.
const (
	// JobRun executes a job under the side-effect gate.
	JobRun = "action:job:run"
	// JobCancel cancels a running job.
	JobCancel = "action:job:cancel"
	// MemoryCreate writes a node into the memory graph.
	MemoryCreate = "action:memory:create"
	// MemoryQuery reads from the memory graph.
	MemoryQuery = "action:memory:query"
	// OIInterpret invokes the interpretation adapter.
	OIInterpret = "action:oi:interpret"
	// KnowledgeIngest verifies and persists grounded claims.
	KnowledgeIngest = "action:knowledge:ingest"
	// ConsentSignal records a stop/pause/resume consent signal.
	ConsentSignal = "action:consent:signal"
	// HealthCheck probes liveness; it is exempt from fail-closed posture.
	HealthCheck = "action:health:check"
)

// Action describes one registered canonical action.
type Action struct {
	// ID is the canonical action identifier.
	ID string
	// Risk is the action's risk class.
	Risk RiskClass
	// RequiredCapabilities lists capability ids that may grant this action.
	RequiredCapabilities []string
	// SideEffecting marks actions that mutate state and therefore pass
	// through the concurrency semaphore and idempotency ledger.
	SideEffecting bool
}

// Envelope is the normalized request handed to the pipeline by a
// transport. The payload is an arbitrary tree of scalars, sequences,
// and string-keyed mappings.
type Envelope struct {
	// Actor is the opaque caller identity (peer address, principal id,
	// or stable client id).
	Actor string
	// ActionID is the canonical action being requested.
	ActionID string
	// Endpoint is the transport-level route the request arrived on.
	Endpoint string
	// Payload is the request body tree.
	Payload map[string]interface{}
	// Headers carries transport metadata (idempotency key, request id).
	Headers map[string]string
	// ArrivalTime is when the transport accepted the request.
	ArrivalTime time.Time
	// RequestID uniquely identifies this request.
	RequestID string
}

// IdempotencyKey returns the client-supplied idempotency key, if any.
func (e *Envelope) IdempotencyKey() string {
	return e.Headers["x-idempotency-key"]
}
