// Package reason defines the closed set of governance reason codes.
// Codes are stable identifiers carried in receipts, proofs, and error
// responses. They MUST NOT change between releases.
package reason

// Code is a stable governance reason code.
type Code string

const (
	// --- Bootstrap & availability ---

	// TreatyUnavailable means the policy artifact is not loaded.
	TreatyUnavailable Code = "TREATY_UNAVAILABLE"
	// GovernanceInitFailed means a governance component failed to construct.
	GovernanceInitFailed Code = "GOVERNANCE_INIT_FAILED"
	// StoreMisconfigured means the receipt store configuration is invalid.
	StoreMisconfigured Code = "STORE_MISCONFIGURED"
	// StoreInitFailed means the receipt store could not be opened.
	StoreInitFailed Code = "STORE_INIT_FAILED"
	// GenomeInvalid means the policy artifact failed signature or manifest checks.
	GenomeInvalid Code = "GENOME_INVALID"

	// --- Consent ---

	// ConsentStopActive means a stop signal blocks the actor (or everyone,
	// when anchor-issued).
	ConsentStopActive Code = "CONSENT_STOP_ACTIVE"
	// ConsentNotGranted means required consent was never recorded.
	ConsentNotGranted Code = "CONSENT_NOT_GRANTED"

	// --- Input firewall (CIF ingress) ---

	// CIFIngressBlocked means the ingress firewall rejected the request.
	CIFIngressBlocked Code = "CIF_INGRESS_BLOCKED"
	// CIFQuarantined means a suspicious pattern was found in the payload.
	CIFQuarantined Code = "CIF_QUARANTINED"
	// CIFRateLimited means the actor exhausted its request budget.
	CIFRateLimited Code = "CIF_RATE_LIMITED"

	// --- Output firewall (CIF egress) ---

	// CIFEgressBlocked means the egress firewall rejected the response.
	CIFEgressBlocked Code = "CIF_EGRESS_BLOCKED"
	// CIFLeakDetected means secrets or PII were detected in strict mode.
	CIFLeakDetected Code = "CIF_LEAK_DETECTED"

	// --- Decision kernel (CDI) ---

	// CDIActionDenied means no capability in the artifact grants the action.
	CDIActionDenied Code = "CDI_ACTION_DENIED"
	// CDIOutputBlocked means the output policy matched a forbidden pattern.
	CDIOutputBlocked Code = "CDI_OUTPUT_BLOCKED"
	// CDIHiveForbidden means the payload declared forbidden coordination fields.
	CDIHiveForbidden Code = "CDI_HIVE_FORBIDDEN"
	// CDIPersonhoodViolation means the response claimed personhood attributes.
	CDIPersonhoodViolation Code = "CDI_PERSONHOOD_VIOLATION"

	// --- Uncertainty ---

	// UncertainFailClosed means a handler or store failed and the gate
	// resolved the uncertainty as a denial.
	UncertainFailClosed Code = "UNCERTAIN_FAIL_CLOSED"
	// GovernanceDeny is the generic pipeline denial.
	GovernanceDeny Code = "GOVERNANCE_DENY"

	// --- Structure & routing ---

	// RouteNotFound means no handler is registered for the endpoint.
	RouteNotFound Code = "ROUTE_NOT_FOUND"
	// ActionGateBypassAttempt means a side effect was attempted outside the gate.
	ActionGateBypassAttempt Code = "ACTION_GATE_BYPASS_ATTEMPT"
	// MalformedRequest means the envelope was structurally invalid.
	MalformedRequest Code = "MALFORMED_REQUEST"
	// UnregisteredAction means the action id is not in the registry.
	UnregisteredAction Code = "UNREGISTERED_ACTION"

	// --- Capability tokens ---

	// TokenReplayed means a spent capability token was presented again.
	TokenReplayed Code = "TOKEN_REPLAYED"

	// --- Resources ---

	// JobConcurrencyLimit means the side-effect semaphore is exhausted.
	JobConcurrencyLimit Code = "JOB_CONCURRENCY_LIMIT"

	// --- Heartbeat ---

	// HeartbeatFailClosed means the process is in fail-closed posture.
	HeartbeatFailClosed Code = "HEARTBEAT_FAIL_CLOSED"

	// --- Knowledge ingestion ---

	// CPackMissing means the policy packet is absent or structurally invalid.
	CPackMissing Code = "CPACK_MISSING"
	// ChunkRetrieverUnavailable means a declared chunk could not be fetched.
	ChunkRetrieverUnavailable Code = "CHUNK_RETRIEVER_UNAVAILABLE"
	// TypeRequiresGrounding means the claim type demands fetched support.
	TypeRequiresGrounding Code = "TYPE_REQUIRES_GROUNDING"
	// UnfetchedChunks means a claim cited chunks the runtime never fetched.
	UnfetchedChunks Code = "UNFETCHED_CHUNKS"
	// NoSupportGroundOnlyMode means an unsupported claim arrived in ground_only mode.
	NoSupportGroundOnlyMode Code = "NO_SUPPORT_GROUND_ONLY_MODE"
)

// String returns the code as a plain string.
func (c Code) String() string { return string(c) }

// All returns the full normative set of reason codes.
func All() []Code {
	return []Code{
		TreatyUnavailable,
		GovernanceInitFailed,
		StoreMisconfigured,
		StoreInitFailed,
		GenomeInvalid,
		ConsentStopActive,
		ConsentNotGranted,
		CIFIngressBlocked,
		CIFQuarantined,
		CIFRateLimited,
		CIFEgressBlocked,
		CIFLeakDetected,
		CDIActionDenied,
		CDIOutputBlocked,
		CDIHiveForbidden,
		CDIPersonhoodViolation,
		UncertainFailClosed,
		GovernanceDeny,
		RouteNotFound,
		ActionGateBypassAttempt,
		MalformedRequest,
		UnregisteredAction,
		TokenReplayed,
		JobConcurrencyLimit,
		HeartbeatFailClosed,
		CPackMissing,
		ChunkRetrieverUnavailable,
		TypeRequiresGrounding,
		UnfetchedChunks,
		NoSupportGroundOnlyMode,
	}
}

// Valid reports whether c is a member of the closed set.
func Valid(c Code) bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}
