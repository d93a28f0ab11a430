package action

// Registry is the closed set of canonical actions. It is built once at
// process start and never mutated afterwards; lookups are constant-time.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry from the given actions.
func NewRegistry(actions []Action) *Registry {
	m := make(map[string]Action, len(actions))
	for _, a := range actions {
		m[a.ID] = a
	}
	return &Registry{actions: m}
}

// DefaultRegistry returns the registry for this build of the treaty.
func DefaultRegistry() *Registry {
	return NewRegistry([]Action{
		{ID: JobRun, Risk: RiskHigh, RequiredCapabilities: []string{"cap:jobs"}, SideEffecting: true},
		{ID: JobCancel, Risk: RiskMedium, RequiredCapabilities: []string{"cap:jobs"}, SideEffecting: true},
		{ID: MemoryCreate, Risk: RiskMedium, RequiredCapabilities: []string{"cap:memory"}, SideEffecting: true},
		{ID: MemoryQuery, Risk: RiskLow, RequiredCapabilities: []string{"cap:memory"}},
		{ID: OIInterpret, Risk: RiskHigh, RequiredCapabilities: []string{"cap:interpret"}},
		{ID: KnowledgeIngest, Risk: RiskMedium, RequiredCapabilities: []string{"cap:knowledge"}, SideEffecting: true},
		{ID: ConsentSignal, Risk: RiskLow, RequiredCapabilities: []string{"cap:consent"}, SideEffecting: true},
		{ID: HealthCheck, Risk: RiskLow, RequiredCapabilities: []string{"cap:health"}},
	})
}

// Lookup returns the action for id and whether it is registered.
func (r *Registry) Lookup(id string) (Action, bool) {
	a, ok := r.actions[id]
	return a, ok
}

// IsRegistered reports whether id is in the closed set.
func (r *Registry) IsRegistered(id string) bool {
	_, ok := r.actions[id]
	return ok
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.actions)
}

// IDs returns all registered action ids. Order is unspecified.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	return ids
}
