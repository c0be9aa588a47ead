package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/metrics"
	"github.com/lyzr/agentflow/common/models"
	commonredis "github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/worker"
	"github.com/lyzr/agentflow/common/workflow"
)

// claimTTL bounds how long an execution id stays claimed. Pending-entry
// recovery after a crash can redeliver a task; the claim stops a second
// run of the same execution.
const claimTTL = 24 * time.Hour

// TaskRunner consumes execution tasks from the queue and drives the
// kernel, reporting progress to the shared cache as it goes. One
// TaskRunner serves any number of concurrent subscriber loops.
type TaskRunner struct {
	components *bootstrap.Components
	history    *repository.ExecutionRepository
}

// NewTaskRunner creates a task runner. History rows are only written
// when a database is configured.
func NewTaskRunner(components *bootstrap.Components) *TaskRunner {
	var history *repository.ExecutionRepository
	if components.DB != nil {
		history = repository.NewExecutionRepository(components.DB)
	}
	return &TaskRunner{components: components, history: history}
}

// Handle is the queue message handler. It returns an error only when
// redelivery could help; decode failures and duplicate claims are
// swallowed so the message gets acked.
func (r *TaskRunner) Handle(ctx context.Context, key string, value []byte) error {
	log := r.components.Logger

	var task models.ExecutionTask
	if err := json.Unmarshal(value, &task); err != nil {
		// A malformed payload never becomes valid; drop it.
		log.Error("dropping undecodable task", "key", key, "error", err)
		return nil
	}
	if task.ExecutionID == "" {
		log.Error("dropping task without execution id", "key", key)
		return nil
	}

	claimed, err := r.claim(ctx, task.ExecutionID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("execution already claimed, skipping", "execution_id", task.ExecutionID)
		return nil
	}

	return r.execute(ctx, &task)
}

// claim marks the execution as started exactly once across all runners.
// Without Redis the in-process queue delivers each task once, so the
// claim always succeeds.
func (r *TaskRunner) claim(ctx context.Context, executionID string) (bool, error) {
	if r.components.Redis == nil {
		return true, nil
	}
	return r.components.Redis.SetIfAbsent(ctx, "execution:claimed:"+executionID, r.components.ConsumerName, claimTTL)
}

func (r *TaskRunner) execute(ctx context.Context, task *models.ExecutionTask) (err error) {
	log := r.components.Logger.WithExecutionID(task.ExecutionID)
	started := time.Now()
	capture := metrics.StartCapture()

	if t := r.components.Telemetry; t != nil {
		defer t.RecordDuration("execution.run", started)
	}

	var pub engine.Publisher
	if r.components.Redis != nil {
		pub = eventPublisher{redis: r.components.Redis}
	}
	reporter := engine.NewPollingReporter(task.ExecutionID, r.components.Cache, pub, log)
	kernel := engine.New(r.components.Drivers, r.components.Store, reporter, log)

	// Driver panics become error responses inside the registry; this
	// guard is for panics in the kernel itself. The progress record must
	// still reach a terminal state or pollers wait out the TTL, so the
	// record, history row and completion signal are written before the
	// failure goes back to the queue.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		err = fmt.Errorf("execution %s panicked: %v", task.ExecutionID, rec)
		log.Error("execution panicked", "panic", rec)
		if t := r.components.Telemetry; t != nil {
			t.RecordEvent("execution_panicked", map[string]any{"execution_id": task.ExecutionID})
		}

		reporter.OnExecutionError(err.Error(), nil, nil)
		reporter.Close()
		capture.Finalize()

		failed := engine.Result{Status: workflow.StatusError, Error: err.Error()}
		r.finishHistory(ctx, task, &failed)
		r.signalCompletion(ctx, task.ExecutionID, &failed)
	}()

	log.Info("execution starting",
		"workflow_id", task.WorkflowID,
		"nodes", len(task.Nodes))

	result := kernel.Execute(ctx, task.Graph(), task.Context, engine.Options{StartNodeID: task.StartNodeID})
	reporter.Close()

	r.finishHistory(ctx, task, &result)
	r.signalCompletion(ctx, task.ExecutionID, &result)

	capture.Finalize()
	fields := append([]interface{}{
		"status", result.Status,
		"steps", result.Steps,
		"duration_ms", time.Since(started).Milliseconds(),
	}, capture.Fields()...)

	if result.Status == workflow.StatusOK {
		log.Info("execution finished", fields...)
	} else {
		log.Warn("execution failed", append(fields, "error", result.Error)...)
	}
	return nil
}

// finishHistory records the terminal row for executions that belong to
// a stored workflow. Failures are logged; history is best effort.
func (r *TaskRunner) finishHistory(ctx context.Context, task *models.ExecutionTask, result *engine.Result) {
	if r.history == nil || task.WorkflowID == "" {
		return
	}

	execID, err := uuid.Parse(task.ExecutionID)
	if err != nil {
		r.components.Logger.Warn("skipping history for malformed execution id",
			"execution_id", task.ExecutionID, "error", err)
		return
	}

	status := workflow.ExecutionCompleted
	var errPtr *string
	if result.Status != workflow.StatusOK {
		status = workflow.ExecutionFailed
		msg := result.Error
		if msg == "" {
			msg = "execution failed"
		}
		errPtr = &msg
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		r.components.Logger.Warn("failed to marshal execution result",
			"execution_id", task.ExecutionID, "error", err)
		resultJSON = nil
	}

	now := time.Now().UTC()
	record := &models.WorkflowExecution{
		ID:          execID,
		Status:      status,
		Result:      resultJSON,
		Error:       errPtr,
		CompletedAt: &now,
	}
	if err := r.history.Finish(ctx, record); err != nil {
		r.components.Logger.Warn("failed to record execution result",
			"execution_id", task.ExecutionID, "error", err)
	}
}

// signalCompletion unblocks synchronous waiters (CLI, tests) listening
// on the per-execution completion list.
func (r *TaskRunner) signalCompletion(ctx context.Context, executionID string, result *engine.Result) {
	if r.components.Redis == nil {
		return
	}

	opts := &worker.CompletionOpts{
		ExecutionID: executionID,
		Status:      "completed",
		Final:       result.Final,
	}
	if result.Status != workflow.StatusOK {
		opts.Status = "failed"
		opts.Error = result.Error
		if opts.Error == "" {
			opts.Error = "execution failed"
		}
	}

	if err := worker.SignalCompletion(ctx, r.components.Redis, r.components.Logger, opts); err != nil {
		r.components.Logger.Warn("failed to signal completion",
			"execution_id", executionID, "error", err)
	}
}

// eventPublisher adapts the redis wrapper to the engine's Publisher.
type eventPublisher struct {
	redis *commonredis.Client
}

func (p eventPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.redis.PublishEvent(ctx, channel, string(payload))
}
