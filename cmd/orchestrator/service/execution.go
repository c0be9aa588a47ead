package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/worker"
	"github.com/lyzr/agentflow/common/workflow"
)

// workerPingBudget bounds the liveness check before async dispatch
const workerPingBudget = time.Second

// ErrNoWorkers means async dispatch was refused because no runner has a
// fresh heartbeat.
var ErrNoWorkers = errors.New("no live workers available")

// ExecutionHistory is the persistence surface for execution rows.
// *repository.ExecutionRepository satisfies it.
type ExecutionHistory interface {
	Create(ctx context.Context, exec *models.WorkflowExecution) error
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.WorkflowExecution, error)
}

// workerCounter reports live runner counts. *worker.Registry satisfies it.
type workerCounter interface {
	AliveWorkers(ctx context.Context, service string) (int64, error)
}

// tierLimiter applies the per-client tier budget. *ratelimit.RateLimiter
// satisfies it.
type tierLimiter interface {
	CheckTieredLimit(ctx context.Context, clientKey string, tier ratelimit.WorkflowTier) (*ratelimit.RateLimitResult, error)
}

// ValidationError marks requests that fail before any execution state
// is created. Handlers map it to 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RateLimitError is returned when a client exhausts a dispatch budget.
// Tier carries the cost tier for the per-client check and "workflow"
// for the per-workflow trigger budget.
type RateLimitError struct {
	Tier              ratelimit.WorkflowTier
	Limit             int64
	CurrentCount      int64
	RetryAfterSeconds int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s budget allows %d runs/minute, retry after %d seconds",
		string(e.Tier), e.Limit, e.RetryAfterSeconds)
}

// ExecutionService runs workflows synchronously and dispatches them to
// the runner fleet asynchronously.
type ExecutionService struct {
	components *bootstrap.Components
	kernel     *engine.Kernel
	history    ExecutionHistory
	limiter    tierLimiter
	workers    workerCounter
}

// NewExecutionService creates the execution service. history and
// limiter may be nil; the corresponding steps are skipped.
func NewExecutionService(components *bootstrap.Components, history ExecutionHistory, limiter *ratelimit.RateLimiter) *ExecutionService {
	s := &ExecutionService{
		components: components,
		kernel:     engine.New(components.Drivers, components.Store, nil, components.Logger),
		history:    history,
	}
	if limiter != nil {
		s.limiter = limiter
	}
	if components.Workers != nil {
		s.workers = components.Workers
	}
	return s
}

// ExecuteNode dispatches a single node through the driver registry
func (s *ExecutionService) ExecuteNode(ctx context.Context, node *workflow.Node, wctx *workflow.Context) (workflow.DriverResponse, error) {
	if node == nil || node.Type == "" {
		return workflow.DriverResponse{}, &ValidationError{Message: "node.type is required"}
	}
	if !s.components.Drivers.Has(node.Type) {
		return workflow.DriverResponse{}, &ValidationError{Message: fmt.Sprintf("No driver registered for '%s'", node.Type)}
	}
	if wctx == nil {
		wctx = workflow.NewContext()
	}

	return s.components.Drivers.Execute(ctx, node.Type, node, wctx), nil
}

// ExecuteSync walks the graph inline and returns the full result,
// including the partial trace on failure.
func (s *ExecutionService) ExecuteSync(ctx context.Context, g *workflow.Graph, wctx *workflow.Context, startNodeID string) engine.Result {
	return s.kernel.Execute(ctx, g, wctx, engine.Options{StartNodeID: startNodeID})
}

// Dispatch queues a workflow for background execution and returns the
// allocated execution id. Order matters: nothing is recorded until the
// request is validated and a live runner is confirmed.
func (s *ExecutionService) Dispatch(ctx context.Context, clientKey string, task *models.ExecutionTask) (string, error) {
	if len(task.Nodes) == 0 {
		return "", &ValidationError{Message: "nodes are required"}
	}

	if err := s.checkRateLimit(ctx, clientKey, task); err != nil {
		return "", err
	}

	if err := s.confirmWorkers(ctx); err != nil {
		return "", err
	}

	execID := uuid.New()
	task.ExecutionID = execID.String()

	s.recordHistory(ctx, execID, task.WorkflowID)

	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode execution task: %w", err)
	}
	topic := s.components.Config.Execution.TaskStream
	if err := s.components.Queue.Publish(ctx, topic, task.ExecutionID, payload); err != nil {
		return "", fmt.Errorf("failed to enqueue execution: %w", err)
	}

	s.components.Logger.Info("execution dispatched",
		"execution_id", task.ExecutionID,
		"workflow_id", task.WorkflowID,
		"nodes", len(task.Nodes),
		"topic", topic,
	)

	return task.ExecutionID, nil
}

// Status reads the cached progress record for an execution
func (s *ExecutionService) Status(ctx context.Context, executionID string) (*workflow.ExecutionState, bool, error) {
	return engine.LoadExecutionState(ctx, s.components.Cache, executionID)
}

// checkRateLimit applies the tiered per-client limit. Limiter failures
// open the gate: availability beats enforcement.
func (s *ExecutionService) checkRateLimit(ctx context.Context, clientKey string, task *models.ExecutionTask) error {
	if s.limiter == nil || clientKey == "" {
		return nil
	}

	profile := ratelimit.InspectWorkflow(task.Graph())
	result, err := s.limiter.CheckTieredLimit(ctx, clientKey, profile.Tier)
	if err != nil {
		s.components.Logger.Warn("rate limit check failed, allowing request", "error", err)
		return nil
	}
	if !result.Allowed {
		s.components.Logger.Warn("rate limit exceeded",
			"client", clientKey,
			"tier", profile.Tier,
			"limit", result.Limit,
			"current", result.CurrentCount,
		)
		return &RateLimitError{
			Tier:              profile.Tier,
			Limit:             result.Limit,
			CurrentCount:      result.CurrentCount,
			RetryAfterSeconds: result.RetryAfterSeconds,
		}
	}
	return nil
}

// confirmWorkers refuses dispatch unless at least one runner heartbeat
// is fresh. The check runs under a sub-second deadline so a slow Redis
// cannot stall the API.
func (s *ExecutionService) confirmWorkers(ctx context.Context) error {
	if s.workers == nil {
		return ErrNoWorkers
	}

	pingCtx, cancel := context.WithTimeout(ctx, workerPingBudget)
	defer cancel()

	alive, err := s.workers.AliveWorkers(pingCtx, worker.WorkflowRunnerService)
	if err != nil {
		s.components.Logger.Warn("worker liveness check failed", "error", err)
		return ErrNoWorkers
	}
	if alive == 0 {
		return ErrNoWorkers
	}
	return nil
}

// recordHistory inserts the running history row for stored-workflow
// executions. Failures are logged, not fatal: the run proceeds without
// history rather than failing dispatch.
func (s *ExecutionService) recordHistory(ctx context.Context, execID uuid.UUID, workflowID string) {
	if s.history == nil || workflowID == "" {
		return
	}
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		s.components.Logger.Warn("skipping history row for malformed workflow id", "workflow_id", workflowID)
		return
	}

	row := &models.WorkflowExecution{
		ID:         execID,
		WorkflowID: &wfID,
		Status:     workflow.ExecutionRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.history.Create(ctx, row); err != nil {
		s.components.Logger.Warn("failed to record execution history",
			"execution_id", execID,
			"workflow_id", workflowID,
			"error", err,
		)
	}
}

// HistoryByWorkflow lists recent stored-workflow executions
func (s *ExecutionService) HistoryByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]*models.WorkflowExecution, error) {
	if s.history == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	return s.history.ListByWorkflow(ctx, workflowID, limit)
}
