package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/drivers"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/queue"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/workflow"
)

const testStream = "test.executions"

// newTestComponents builds the in-process component set the services
// need: memory queue and cache, default drivers, no Redis, no database.
func newTestComponents(t *testing.T) *bootstrap.Components {
	t.Helper()

	log := logger.New("error", "text")
	mem := cache.NewMemoryCache(log)
	t.Cleanup(func() { mem.Close() })

	store := memstore.NewSelector(context.Background(), nil, nil, log)
	reg := drivers.NewRegistry(log)
	drivers.RegisterDefaults(reg, drivers.Deps{Store: store, Log: log})

	cfg := &config.Config{}
	cfg.Execution.TaskStream = testStream

	return &bootstrap.Components{
		Config:       cfg,
		Logger:       log,
		Queue:        queue.NewMemoryQueue(log),
		Cache:        mem,
		Store:        store,
		Drivers:      reg,
		ConsumerName: "test-api",
	}
}

// stubWorkers satisfies workerCounter with a fixed answer.
type stubWorkers struct {
	alive int64
	err   error
}

func (s stubWorkers) AliveWorkers(ctx context.Context, service string) (int64, error) {
	return s.alive, s.err
}

// stubLimiter satisfies tierLimiter and records the tier it was asked
// about.
type stubLimiter struct {
	result   *ratelimit.RateLimitResult
	err      error
	lastTier ratelimit.WorkflowTier
}

func (s *stubLimiter) CheckTieredLimit(ctx context.Context, clientKey string, tier ratelimit.WorkflowTier) (*ratelimit.RateLimitResult, error) {
	s.lastTier = tier
	return s.result, s.err
}

// recordingHistory satisfies ExecutionHistory and captures created rows.
type recordingHistory struct {
	created []*models.WorkflowExecution
}

func (h *recordingHistory) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	h.created = append(h.created, exec)
	return nil
}

func (h *recordingHistory) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.WorkflowExecution, error) {
	return nil, nil
}

// subscribeOnce registers a handler on the task stream that forwards the
// first payload it sees.
func subscribeOnce(t *testing.T, q queue.Queue) <-chan []byte {
	t.Helper()
	received := make(chan []byte, 1)
	err := q.Subscribe(context.Background(), testStream, func(ctx context.Context, key string, value []byte) error {
		select {
		case received <- value:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return received
}

func twoNodeTask() *models.ExecutionTask {
	return &models.ExecutionTask{
		Nodes: []workflow.Node{
			{ID: "in", Type: "input"},
			{ID: "out", Type: "output"},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "in", Target: "out"}},
	}
}

func TestDispatchRequiresNodes(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)

	_, err := svc.Dispatch(context.Background(), "client", &models.ExecutionTask{})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDispatchRefusedWithoutWorkers(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)

	_, err := svc.Dispatch(context.Background(), "client", twoNodeTask())
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
}

func TestDispatchRefusedWhenHeartbeatsStale(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)
	svc.workers = stubWorkers{alive: 0}

	_, err := svc.Dispatch(context.Background(), "client", twoNodeTask())
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers for zero live workers, got %v", err)
	}
}

func TestDispatchRefusedWhenLivenessCheckFails(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)
	svc.workers = stubWorkers{err: errors.New("redis down")}

	_, err := svc.Dispatch(context.Background(), "client", twoNodeTask())
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers on liveness failure, got %v", err)
	}
}

func TestDispatchQueuesTask(t *testing.T) {
	components := newTestComponents(t)
	received := subscribeOnce(t, components.Queue)

	svc := NewExecutionService(components, nil, nil)
	svc.workers = stubWorkers{alive: 1}

	execID, err := svc.Dispatch(context.Background(), "client", twoNodeTask())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
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
		if queued.ExecutionID != execID {
			t.Errorf("queued execution id %q, want %q", queued.ExecutionID, execID)
		}
		if len(queued.Nodes) != 2 {
			t.Errorf("expected 2 nodes in queued task, got %d", len(queued.Nodes))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatched task never reached the queue")
	}
}

func TestDispatchRecordsHistoryForStoredWorkflow(t *testing.T) {
	components := newTestComponents(t)
	history := &recordingHistory{}

	svc := NewExecutionService(components, history, nil)
	svc.workers = stubWorkers{alive: 1}

	task := twoNodeTask()
	task.WorkflowID = uuid.NewString()

	execID, err := svc.Dispatch(context.Background(), "client", task)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(history.created) != 1 {
		t.Fatalf("expected one history row, got %d", len(history.created))
	}
	row := history.created[0]
	if row.ID.String() != execID {
		t.Errorf("history row id %s, want %s", row.ID, execID)
	}
	if row.WorkflowID == nil || row.WorkflowID.String() != task.WorkflowID {
		t.Errorf("history row workflow id %v, want %s", row.WorkflowID, task.WorkflowID)
	}
	if row.Status != workflow.ExecutionRunning {
		t.Errorf("history row status %q, want %q", row.Status, workflow.ExecutionRunning)
	}
}

func TestDispatchSkipsHistoryForAdHocGraphs(t *testing.T) {
	components := newTestComponents(t)
	history := &recordingHistory{}

	svc := NewExecutionService(components, history, nil)
	svc.workers = stubWorkers{alive: 1}

	if _, err := svc.Dispatch(context.Background(), "client", twoNodeTask()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(history.created) != 0 {
		t.Errorf("expected no history rows for ad-hoc graph, got %d", len(history.created))
	}
}

func TestDispatchDeniedByTierLimit(t *testing.T) {
	components := newTestComponents(t)
	limiter := &stubLimiter{
		result: &ratelimit.RateLimitResult{
			Allowed:           false,
			CurrentCount:      6,
			Limit:             5,
			RetryAfterSeconds: 42,
		},
	}

	svc := NewExecutionService(components, nil, nil)
	svc.workers = stubWorkers{alive: 1}
	svc.limiter = limiter

	task := &models.ExecutionTask{
		Nodes: []workflow.Node{
			{ID: "a1", Type: "openai_agent"},
			{ID: "a2", Type: "claude_agent"},
			{ID: "a3", Type: "ollama_agent"},
		},
	}

	_, err := svc.Dispatch(context.Background(), "client", task)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rlErr.Limit != 5 || rlErr.RetryAfterSeconds != 42 {
		t.Errorf("unexpected limit fields: %+v", rlErr)
	}
	if limiter.lastTier != ratelimit.TierHeavy {
		t.Errorf("three agents should rate as heavy tier, got %s", limiter.lastTier)
	}
}

func TestDispatchSkipsLimiterWithoutClientKey(t *testing.T) {
	components := newTestComponents(t)
	limiter := &stubLimiter{
		result: &ratelimit.RateLimitResult{Allowed: false},
	}

	svc := NewExecutionService(components, nil, nil)
	svc.workers = stubWorkers{alive: 1}
	svc.limiter = limiter

	if _, err := svc.Dispatch(context.Background(), "", twoNodeTask()); err != nil {
		t.Fatalf("expected anonymous dispatch to skip the limiter, got %v", err)
	}
}

func TestDispatchAllowsWhenLimiterFails(t *testing.T) {
	components := newTestComponents(t)
	limiter := &stubLimiter{err: errors.New("redis down")}

	svc := NewExecutionService(components, nil, nil)
	svc.workers = stubWorkers{alive: 1}
	svc.limiter = limiter

	if _, err := svc.Dispatch(context.Background(), "client", twoNodeTask()); err != nil {
		t.Fatalf("expected limiter failure to fail open, got %v", err)
	}
}

func TestExecuteNodeUnknownDriver(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)

	_, err := svc.ExecuteNode(context.Background(), &workflow.Node{ID: "x", Type: "zzz"}, nil)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Message != "No driver registered for 'zzz'" {
		t.Errorf("unexpected message: %q", vErr.Message)
	}
}

func TestExecuteSyncWalksGraph(t *testing.T) {
	svc := NewExecutionService(newTestComponents(t), nil, nil)

	wctx := workflow.NewContext()
	wctx.Input = "hello"
	g := &workflow.Graph{
		Nodes: []workflow.Node{
			{ID: "in", Type: "input"},
			{ID: "out", Type: "output"},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "in", Target: "out"}},
	}

	result := svc.ExecuteSync(context.Background(), g, wctx, "")
	if result.Status != workflow.StatusOK {
		t.Fatalf("expected ok, got %s (%s)", result.Status, result.Error)
	}
	if result.Final != "hello" {
		t.Errorf("expected input to flow to final, got %v", result.Final)
	}
	if result.Steps != 2 || len(result.Trace) != 2 {
		t.Errorf("expected 2 steps and 2 trace entries, got %d/%d", result.Steps, len(result.Trace))
	}
}
