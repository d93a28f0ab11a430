package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/consent"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/gate"
)

// Job states.
const (
	JobStateRunning   = "running"
	JobStateDone      = "done"
	JobStateCancelled = "cancelled"
)

// jobRecord is one tracked job execution.
type jobRecord struct {
	ID        string
	Spec      string
	State     string
	StartedAt time.Time
}

// JobRunner is a minimal in-process job executor behind the gate. The
// real executor is an external collaborator; this one exists so the
// action surface is complete end to end.
type JobRunner struct {
	mu     sync.Mutex
	jobs   map[string]*jobRecord
	logger *slog.Logger
}

// NewJobRunner creates the in-process job runner.
func NewJobRunner(logger *slog.Logger) *JobRunner {
	return &JobRunner{
		jobs:   make(map[string]*jobRecord),
		logger: logger,
	}
}

// RunHandler returns the gate handler for action:job:run.
func (j *JobRunner) RunHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		spec, _ := payload["job"].(string)
		if spec == "" {
			return nil, fmt.Errorf("payload has no job spec")
		}

		rec := &jobRecord{
			ID:        uuid.NewString(),
			Spec:      spec,
			State:     JobStateDone,
			StartedAt: time.Now().UTC(),
		}

		j.mu.Lock()
		j.jobs[rec.ID] = rec
		j.mu.Unlock()

		j.logger.Info("job executed", "job_id", rec.ID, "spec", spec)
		return map[string]interface{}{
			"job_id": rec.ID,
			"state":  rec.State,
		}, nil
	}
}

// CancelHandler returns the gate handler for action:job:cancel.
func (j *JobRunner) CancelHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		jobID, _ := payload["job_id"].(string)
		if jobID == "" {
			return nil, fmt.Errorf("payload has no job_id")
		}

		j.mu.Lock()
		defer j.mu.Unlock()

		rec, ok := j.jobs[jobID]
		if !ok {
			return map[string]interface{}{
				"job_id":    jobID,
				"cancelled": false,
				"detail":    "unknown job",
			}, nil
		}
		if rec.State == JobStateRunning {
			rec.State = JobStateCancelled
		}
		return map[string]interface{}{
			"job_id":    jobID,
			"cancelled": rec.State == JobStateCancelled,
			"state":     rec.State,
		}, nil
	}
}

// memoryNode is one node in the memory graph.
type memoryNode struct {
	ID        string
	Type      string
	Props     map[string]interface{}
	CreatedAt time.Time
}

// MemoryGraph is a minimal in-memory node store behind the gate. The
// real memory graph is an external collaborator.
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]memoryNode
}

// NewMemoryGraph creates an empty memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{nodes: make(map[string]memoryNode)}
}

// CreateHandler returns the gate handler for action:memory:create.
func (m *MemoryGraph) CreateHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		id, _ := payload["id"].(string)
		nodeType, _ := payload["type"].(string)
		if id == "" || nodeType == "" {
			return nil, fmt.Errorf("payload requires id and type")
		}

		props, _ := payload["props"].(map[string]interface{})

		m.mu.Lock()
		m.nodes[id] = memoryNode{
			ID:        id,
			Type:      nodeType,
			Props:     props,
			CreatedAt: time.Now().UTC(),
		}
		m.mu.Unlock()

		return map[string]interface{}{
			"id":      id,
			"type":    nodeType,
			"created": true,
		}, nil
	}
}

// QueryHandler returns the gate handler for action:memory:query.
func (m *MemoryGraph) QueryHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		nodeType, _ := payload["type"].(string)

		m.mu.RLock()
		var ids []string
		for id, node := range m.nodes {
			if nodeType == "" || node.Type == nodeType {
				ids = append(ids, id)
			}
		}
		m.mu.RUnlock()

		sort.Strings(ids)
		results := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			m.mu.RLock()
			node := m.nodes[id]
			m.mu.RUnlock()
			results = append(results, map[string]interface{}{
				"id":   node.ID,
				"type": node.Type,
			})
		}

		return map[string]interface{}{
			"nodes": results,
			"count": len(results),
		}, nil
	}
}

// ConsentHandler returns the gate handler for action:consent:signal.
// The actor is bound at registration time by the composition root,
// which wraps this handler per request; here the signalling actor rides
// in the payload so the handler stays a pure closure.
func ConsentHandler(store *consent.Store) gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		actor, _ := payload["actor"].(string)
		rawKind, _ := payload["signal"].(string)
		if actor == "" || rawKind == "" {
			return nil, fmt.Errorf("payload requires actor and signal")
		}

		kind, ok := consent.ParseKind(rawKind)
		if !ok {
			return nil, fmt.Errorf("unknown consent signal %q", rawKind)
		}

		store.Record(consent.Signal{
			Actor: actor,
			Kind:  kind,
			At:    time.Now().UTC(),
		})

		return map[string]interface{}{
			"actor":    actor,
			"signal":   string(kind),
			"recorded": true,
		}, nil
	}
}

// InterpretHandler returns the gate handler for action:oi:interpret.
// The real interpretation adapter is an external collaborator; this
// stand-in returns a deterministic summary so the action surface works
// without one.
func InterpretHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		text, _ := payload["text"].(string)
		if text == "" {
			return nil, fmt.Errorf("payload has no text")
		}
		return map[string]interface{}{
			"interpretation": fmt.Sprintf("received %d characters", len(text)),
		}, nil
	}
}

// HealthHandler returns the gate handler for action:health:check.
func HealthHandler() gate.Handler {
	return func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"status": "ok"}, nil
	}
}
