package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/models"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/workflow"
)

const sweepBatch = 100

// Logger interface for supervisor logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// StaleReaper repairs history rows left in running state by runners
// that died mid-execution. An old running row alone is not proof of
// death: the progress cache is consulted first, so an execution that
// is still writing progress records is left alone, and one that
// reached a terminal cache state without a terminal row is finalized
// from that state.
type StaleReaper struct {
	history       *repository.ExecutionRepository
	cache         cache.Cache
	logger        Logger
	checkInterval time.Duration
	timeout       time.Duration
}

// NewStaleReaper creates a reaper with default cadence
func NewStaleReaper(history *repository.ExecutionRepository, c cache.Cache, logger Logger) *StaleReaper {
	return &StaleReaper{
		history:       history,
		cache:         c,
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       2 * time.Hour,
	}
}

// WithCheckInterval sets how often the sweep runs
func (s *StaleReaper) WithCheckInterval(interval time.Duration) *StaleReaper {
	if interval > 0 {
		s.checkInterval = interval
	}
	return s
}

// WithTimeout sets how old a running row must be before it is examined.
// Must exceed the longest legitimate execution.
func (s *StaleReaper) WithTimeout(timeout time.Duration) *StaleReaper {
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

// Start runs the sweep loop until the context is cancelled
func (s *StaleReaper) Start(ctx context.Context) error {
	s.logger.Info("stale execution reaper starting",
		"check_interval", s.checkInterval,
		"timeout", s.timeout)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stale execution reaper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StaleReaper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.timeout)
	candidates, err := s.history.ListStaleRunning(ctx, cutoff, sweepBatch)
	if err != nil {
		s.logger.Error("stale execution sweep failed", "error", err)
		return
	}

	for _, exec := range candidates {
		s.repair(ctx, exec)
	}
}

func (s *StaleReaper) repair(ctx context.Context, exec *models.WorkflowExecution) {
	id := exec.ID.String()

	state, found, err := engine.LoadExecutionState(ctx, s.cache, id)
	if err != nil {
		s.logger.Error("progress record lookup failed", "execution_id", id, "error", err)
		return
	}
	if found && state.Status == workflow.ExecutionRunning {
		// Still writing progress; a long execution, not a dead one.
		return
	}

	now := time.Now().UTC()
	record := &models.WorkflowExecution{ID: exec.ID, CompletedAt: &now}

	if found {
		// The runner finished but never landed the terminal row.
		record.Status = state.Status
		record.Result = resultFromState(state)
		if state.Error != "" {
			msg := state.Error
			record.Error = &msg
		}
	} else {
		record.Status = workflow.ExecutionFailed
		msg := "execution timed out: no progress after " + s.timeout.String()
		record.Error = &msg
	}

	if err := s.history.Finish(ctx, record); err != nil {
		s.logger.Error("failed to repair stale execution", "execution_id", id, "error", err)
		return
	}
	s.logger.Warn("repaired stale execution",
		"execution_id", id,
		"status", record.Status,
		"from_cache", found,
		"started_at", exec.StartedAt)
}

// resultFromState rebuilds the result column shape from a terminal
// progress record so repaired rows read like ordinary ones.
func resultFromState(state *workflow.ExecutionState) []byte {
	result := engine.Result{
		Status:      workflow.StatusOK,
		Final:       state.Final,
		Trace:       state.Trace,
		Steps:       state.Steps,
		StartNodeID: state.StartNodeID,
	}
	if state.Status == workflow.ExecutionFailed {
		result.Status = workflow.StatusError
		result.Error = state.Error
	}

	b, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return b
}
