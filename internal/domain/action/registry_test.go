package action

import (
	"testing"
	"time"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	if r.Len() != 8 {
		t.Errorf("Len() = %d, want 8", r.Len())
	}

	tests := []struct {
		id            string
		risk          RiskClass
		sideEffecting bool
	}{
		{JobRun, RiskHigh, true},
		{JobCancel, RiskMedium, true},
		{MemoryCreate, RiskMedium, true},
		{MemoryQuery, RiskLow, false},
		{OIInterpret, RiskHigh, false},
		{KnowledgeIngest, RiskMedium, true},
		{ConsentSignal, RiskLow, true},
		{HealthCheck, RiskLow, false},
	}

	for _, tt := range tests {
		a, ok := r.Lookup(tt.id)
		if !ok {
			t.Errorf("Lookup(%q) missing", tt.id)
			continue
		}
		if a.Risk != tt.risk {
			t.Errorf("%s risk = %s, want %s", tt.id, a.Risk, tt.risk)
		}
		if a.SideEffecting != tt.sideEffecting {
			t.Errorf("%s side-effecting = %v, want %v", tt.id, a.SideEffecting, tt.sideEffecting)
		}
		if len(a.RequiredCapabilities) == 0 {
			t.Errorf("%s has no required capabilities", tt.id)
		}
	}
}

func TestRegistry_UnknownAction(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	if _, ok := r.Lookup("action:fs:delete"); ok {
		t.Error("unknown action should not resolve")
	}
	if r.IsRegistered("action:fs:delete") {
		t.Error("IsRegistered should be false for unknown actions")
	}
	if !r.IsRegistered(HealthCheck) {
		t.Error("IsRegistered should be true for registered actions")
	}
}

func TestRegistry_IDs(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	ids := r.IDs()
	if len(ids) != r.Len() {
		t.Fatalf("IDs() returned %d ids for %d actions", len(ids), r.Len())
	}
	for _, id := range ids {
		if !r.IsRegistered(id) {
			t.Errorf("IDs() returned unregistered id %q", id)
		}
	}
}

func TestEnvelope_IdempotencyKey(t *testing.T) {
	t.Parallel()

	e := Envelope{
		Actor:       "worker-1",
		ActionID:    JobRun,
		Headers:     map[string]string{"x-idempotency-key": "k-1"},
		ArrivalTime: time.Now(),
	}
	if e.IdempotencyKey() != "k-1" {
		t.Errorf("IdempotencyKey() = %q, want k-1", e.IdempotencyKey())
	}

	empty := Envelope{}
	if empty.IdempotencyKey() != "" {
		t.Error("missing header should yield an empty key")
	}
}
