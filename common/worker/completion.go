package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/agentflow/common/redis"
)

// Logger interface for worker operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CompletionOpts contains options for sending a completion signal
type CompletionOpts struct {
	ExecutionID string
	Status      string      // "completed" or "failed"
	Final       interface{} // Final output for completed executions
	Error       string      // Error message for failed executions
}

// Validate checks if all required fields are present
func (opts *CompletionOpts) Validate() error {
	if opts.ExecutionID == "" {
		return fmt.Errorf("execution ID is required")
	}
	if opts.Status == "" {
		return fmt.Errorf("status is required")
	}
	if opts.Status != "completed" && opts.Status != "failed" {
		return fmt.Errorf("status must be 'completed' or 'failed', got: %s", opts.Status)
	}
	if opts.Status == "failed" && opts.Error == "" {
		return fmt.Errorf("error message is required for failed status")
	}
	return nil
}

// completionKey returns the list key a waiter blocks on for one execution
func completionKey(executionID string) string {
	return "execution:done:" + executionID
}

// SignalCompletion pushes a completion signal onto the per-execution list
// so that synchronous waiters (CLI, tests) can unblock without polling
func SignalCompletion(ctx context.Context, client *redis.Client, log Logger, opts *CompletionOpts) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid completion opts: %w", err)
	}

	signal := map[string]interface{}{
		"version":      "1.0",
		"execution_id": opts.ExecutionID,
		"status":       opts.Status,
		"timestamp":    float64(time.Now().UnixNano()) / 1e9,
	}
	if opts.Final != nil {
		signal["final"] = opts.Final
	}
	if opts.Error != "" {
		signal["error"] = opts.Error
	}

	signalJSON, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal completion signal: %w", err)
	}

	key := completionKey(opts.ExecutionID)
	if err := client.PushToList(ctx, key, string(signalJSON)); err != nil {
		return fmt.Errorf("failed to push completion signal: %w", err)
	}

	log.Info("signaled completion",
		"execution_id", opts.ExecutionID,
		"status", opts.Status,
		"has_final", opts.Final != nil)

	return nil
}

// CompletionSignal is the decoded form of a completion signal
type CompletionSignal struct {
	Version     string      `json:"version"`
	ExecutionID string      `json:"execution_id"`
	Status      string      `json:"status"`
	Final       interface{} `json:"final,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   float64     `json:"timestamp"`
}

// WaitForCompletion blocks until a completion signal arrives for the
// execution or the timeout elapses
func WaitForCompletion(ctx context.Context, client *redis.Client, executionID string, timeout time.Duration) (*CompletionSignal, error) {
	result, err := client.BlockingPopList(ctx, timeout, completionKey(executionID))
	if err != nil {
		return nil, fmt.Errorf("failed to wait for completion of %s: %w", executionID, err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected completion payload for %s", executionID)
	}

	var signal CompletionSignal
	if err := json.Unmarshal([]byte(result[1]), &signal); err != nil {
		return nil, fmt.Errorf("failed to decode completion signal: %w", err)
	}
	return &signal, nil
}
