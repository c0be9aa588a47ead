package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/agentflow/cmd/workflow-runner/runner"
	"github.com/lyzr/agentflow/cmd/workflow-runner/supervisor"
	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/metrics"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/worker"
)

const snapshotInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "workflow-runner", bootstrap.WithDBInitHook(ensureSchema))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap workflow-runner: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger
	cfg := components.Config

	log.Info("worker host", metrics.GetSystemInfo().Fields()...)

	// Heartbeat keeps this runner visible to the dispatcher's worker
	// count. Without Redis there is no registry and async dispatch is
	// refused upstream, so the runner only serves in-process queues.
	if components.Workers != nil {
		go components.Workers.Run(ctx, worker.WorkflowRunnerService, components.ConsumerName, cfg.Execution.HeartbeatInterval)
	} else {
		log.Warn("no worker registry, runner invisible to dispatchers")
	}

	if components.DB != nil {
		reaper := supervisor.NewStaleReaper(
			repository.NewExecutionRepository(components.DB),
			components.Cache,
			log,
		).WithTimeout(cfg.Execution.StaleAfter)
		go reaper.Start(ctx)
	}

	go metrics.LogEvery(ctx, log, snapshotInterval)

	// Each subscription runs its own read loop; messages are acked only
	// after the handler returns, so concurrency equals subscriber count.
	taskRunner := runner.NewTaskRunner(components)
	concurrency := cfg.Execution.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		if err := components.Queue.Subscribe(ctx, cfg.Execution.TaskStream, taskRunner.Handle); err != nil {
			log.Error("failed to subscribe to task stream", "stream", cfg.Execution.TaskStream, "error", err)
			return
		}
	}

	log.Info("workflow runner ready",
		"stream", cfg.Execution.TaskStream,
		"group", cfg.Execution.ConsumerGroup,
		"consumer", components.ConsumerName,
		"concurrency", concurrency)

	<-ctx.Done()
	log.Info("shutdown signal received")
}

// ensureSchema creates the tables the runner writes to. The same
// statements run in the orchestrator; whichever starts first wins.
func ensureSchema(database *db.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repository.NewWorkflowRepository(database).EnsureSchema(ctx); err != nil {
		return err
	}
	if err := repository.NewExecutionRepository(database).EnsureSchema(ctx); err != nil {
		return err
	}
	return memstore.EnsureMemorySchema(ctx, database)
}
