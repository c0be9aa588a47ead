package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/repository"
)

// memWorkflows satisfies WorkflowStore with an in-memory map.
type memWorkflows struct {
	rows    map[uuid.UUID]*models.Workflow
	updated int
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{rows: make(map[uuid.UUID]*models.Workflow)}
}

func (m *memWorkflows) Create(ctx context.Context, wf *models.Workflow) error {
	m.rows[wf.ID] = wf
	return nil
}

func (m *memWorkflows) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	wf, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	row := *wf
	return &row, nil
}

func (m *memWorkflows) Update(ctx context.Context, wf *models.Workflow) error {
	if _, ok := m.rows[wf.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rows[wf.ID] = wf
	m.updated++
	return nil
}

func (m *memWorkflows) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memWorkflows) List(ctx context.Context, limit int) ([]*models.Workflow, error) {
	out := make([]*models.Workflow, 0, len(m.rows))
	for _, wf := range m.rows {
		out = append(out, wf)
	}
	return out, nil
}

// stubTriggerLimiter satisfies triggerLimiter and records what it was
// asked to check.
type stubTriggerLimiter struct {
	result       *ratelimit.RateLimitResult
	err          error
	lastClient   string
	lastWorkflow string
	lastLimit    int64
	lastWindow   int
}

func (s *stubTriggerLimiter) CheckWorkflowLimit(ctx context.Context, clientKey, workflowID string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error) {
	s.lastClient = clientKey
	s.lastWorkflow = workflowID
	s.lastLimit = limit
	s.lastWindow = windowSec
	return s.result, s.err
}

// newWorkflowService wires a workflow service over the in-process
// components with one live (stubbed) runner.
func newWorkflowService(t *testing.T, store WorkflowStore) *WorkflowService {
	t.Helper()
	components := newTestComponents(t)
	executions := NewExecutionService(components, nil, nil)
	executions.workers = stubWorkers{alive: 1}
	return NewWorkflowService(components, store, executions, nil)
}

func seedWorkflow(store *memWorkflows) *models.Workflow {
	wf := &models.Workflow{
		ID:       uuid.New(),
		Name:     "ticket triage",
		Nodes:    json.RawMessage(`[{"id":"in","type":"input"},{"id":"out","type":"output"}]`),
		Edges:    json.RawMessage(`[{"id":"e1","source":"in","target":"out"}]`),
		APIKey:   "trigger-key",
		IsActive: true,
	}
	store.rows[wf.ID] = wf
	return wf
}

func TestWorkflowCRUDWithoutStorage(t *testing.T) {
	svc := newWorkflowService(t, nil)
	ctx := context.Background()
	id := uuid.New()

	if _, err := svc.Create(ctx, &CreateWorkflowRequest{Name: "x"}); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Create: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.Get(ctx, id); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Get: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.List(ctx, 10); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("List: expected ErrStorageUnavailable, got %v", err)
	}
	if err := svc.Delete(ctx, id); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Delete: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.Patch(ctx, id, json.RawMessage(`[]`)); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Patch: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := svc.Trigger(ctx, id, "key", nil, nil, "client"); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Trigger: expected ErrStorageUnavailable, got %v", err)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc := newWorkflowService(t, newMemWorkflows())

	_, err := svc.Create(context.Background(), &CreateWorkflowRequest{
		Nodes: json.RawMessage(`[{"id":"in","type":"input"}]`),
	})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateValidatesGraphAndIssuesKey(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	ctx := context.Background()

	_, err := svc.Create(ctx, &CreateWorkflowRequest{
		Name:  "broken",
		Nodes: json.RawMessage(`[{"id":"in","type":"input"}]`),
		Edges: json.RawMessage(`[{"id":"e1","source":"in","target":"ghost"}]`),
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("dangling edge should fail validation, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("invalid workflow must not be stored")
	}

	wf, err := svc.Create(ctx, &CreateWorkflowRequest{
		Name:  "solo",
		Nodes: json.RawMessage(`[{"id":"in","type":"input"}]`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if wf.APIKey == "" {
		t.Error("created workflow has no API key")
	}
	if !wf.IsActive {
		t.Error("created workflow should start active")
	}
	if string(wf.Edges) != "[]" {
		t.Errorf("omitted edges should normalize to [], got %s", wf.Edges)
	}
	if _, ok := store.rows[wf.ID]; !ok {
		t.Error("created workflow not persisted")
	}
}

func TestPatchUpdatesDefinition(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)

	ops := json.RawMessage(`[
		{"op": "replace", "path": "/name", "value": "renamed"},
		{"op": "add", "path": "/nodes/-", "value": {"id": "extra", "type": "output"}}
	]`)

	patched, err := svc.Patch(context.Background(), wf.ID, ops)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if patched.Name != "renamed" {
		t.Errorf("name %q, want %q", patched.Name, "renamed")
	}
	g, err := patched.Graph()
	if err != nil {
		t.Fatalf("patched definition does not decode: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Errorf("expected 3 nodes after patch, got %d", len(g.Nodes))
	}
	if store.updated != 1 {
		t.Errorf("expected one store update, got %d", store.updated)
	}
	if patched.APIKey != wf.APIKey {
		t.Error("patch must not rotate the API key")
	}
}

func TestPatchRejectsProtectedFields(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)

	ops := json.RawMessage(`[{"op": "replace", "path": "/api_key", "value": "stolen"}]`)

	_, err := svc.Patch(context.Background(), wf.ID, ops)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if store.updated != 0 {
		t.Error("rejected patch must not touch the store")
	}
}

func TestPatchRevalidatesResultingGraph(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)

	// Applies cleanly as JSON but leaves an edge pointing at a removed
	// node.
	ops := json.RawMessage(`[{"op": "replace", "path": "/nodes", "value": [{"id": "in", "type": "input"}]}]`)

	_, err := svc.Patch(context.Background(), wf.ID, ops)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for dangling edge, got %v", err)
	}
	if store.updated != 0 {
		t.Error("invalid patched graph must not be stored")
	}
}

func TestTriggerRequiresMatchingKey(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)
	limiter := &stubTriggerLimiter{result: &ratelimit.RateLimitResult{Allowed: true}}
	svc.limiter = limiter

	_, err := svc.Trigger(context.Background(), wf.ID, "wrong-key", nil, nil, "client")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if limiter.lastClient != "" {
		t.Error("failed auth must not consume trigger budget")
	}
}

func TestTriggerHidesInactiveWorkflows(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)
	wf.IsActive = false

	_, err := svc.Trigger(context.Background(), wf.ID, wf.APIKey, nil, nil, "client")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("inactive workflow should read as not found, got %v", err)
	}
}

func TestTriggerDeniedByWorkflowBudget(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)
	limiter := &stubTriggerLimiter{
		result: &ratelimit.RateLimitResult{
			Allowed:           false,
			CurrentCount:      31,
			Limit:             30,
			RetryAfterSeconds: 12,
		},
	}
	svc.limiter = limiter

	_, err := svc.Trigger(context.Background(), wf.ID, wf.APIKey, nil, nil, "client")

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.Tier != "workflow" {
		t.Errorf("budget scope %q, want %q", rlErr.Tier, "workflow")
	}
	if rlErr.Limit != 30 || rlErr.RetryAfterSeconds != 12 {
		t.Errorf("unexpected limit fields: %+v", rlErr)
	}
	if limiter.lastWorkflow != wf.ID.String() {
		t.Errorf("budget keyed on %q, want workflow id %q", limiter.lastWorkflow, wf.ID)
	}
	if limiter.lastLimit != ratelimit.WorkflowTriggerConfig.Limit {
		t.Errorf("budget limit %d, want %d", limiter.lastLimit, ratelimit.WorkflowTriggerConfig.Limit)
	}
	if limiter.lastWindow != ratelimit.WorkflowTriggerConfig.WindowSeconds {
		t.Errorf("budget window %d, want %d", limiter.lastWindow, ratelimit.WorkflowTriggerConfig.WindowSeconds)
	}
}

func TestTriggerAllowsWhenBudgetCheckFails(t *testing.T) {
	store := newMemWorkflows()
	svc := newWorkflowService(t, store)
	wf := seedWorkflow(store)
	svc.limiter = &stubTriggerLimiter{err: errors.New("redis down")}

	if _, err := svc.Trigger(context.Background(), wf.ID, wf.APIKey, "input", nil, "client"); err != nil {
		t.Fatalf("expected budget check failure to fail open, got %v", err)
	}
}

func TestTriggerDispatchesStoredGraph(t *testing.T) {
	store := newMemWorkflows()
	components := newTestComponents(t)
	received := subscribeOnce(t, components.Queue)

	executions := NewExecutionService(components, nil, nil)
	executions.workers = stubWorkers{alive: 1}
	svc := NewWorkflowService(components, store, executions, nil)
	wf := seedWorkflow(store)

	params := map[string]interface{}{"priority": "high"}
	execID, err := svc.Trigger(context.Background(), wf.ID, wf.APIKey, "ticket #42", params, "client")
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if _, err := uuid.Parse(execID); err != nil {
		t.Fatalf("expected uuid execution id, got %q", execID)
	}

	select {
	case payload := <-received:
		var queued models.ExecutionTask
		if err := json.Unmarshal(payload, &queued); err != nil {
			t.Fatalf("queued payload does not decode: %v", err)
		}
		if queued.WorkflowID != wf.ID.String() {
			t.Errorf("queued workflow id %q, want %q", queued.WorkflowID, wf.ID)
		}
		if len(queued.Nodes) != 2 || len(queued.Edges) != 1 {
			t.Errorf("queued graph has %d nodes / %d edges, want 2 / 1", len(queued.Nodes), len(queued.Edges))
		}
		if queued.Context == nil || queued.Context.Input != "ticket #42" {
			t.Errorf("queued context lost the trigger input: %+v", queued.Context)
		}
		if queued.Context.Params["priority"] != "high" {
			t.Errorf("queued context lost the trigger params: %+v", queued.Context.Params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("triggered execution never reached the queue")
	}
}
