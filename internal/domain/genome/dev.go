package genome

// DevArtifact builds an unsigned, permissive in-memory artifact that
// grants every given action unconditionally. Development posture only;
// production refuses to run without a signed artifact on disk.
func DevArtifact(actionIDs []string) *Artifact {
	allow := make([]string, len(actionIDs))
	copy(allow, actionIDs)

	return &Artifact{
		Schema:  SchemaVersion,
		Name:    "dev-artifact",
		Version: "0.0.0-dev",
		Invariants: []Invariant{
			{ID: "inv:fail-closed", Severity: "critical", Claim: "uncertain states resolve to denial"},
		},
		Capabilities: []Capability{
			{ID: "cap:dev-all", RiskClass: "high", Allow: allow},
		},
	}
}
