package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/agentflow/common/redis"
)

// WorkflowRunnerService is the heartbeat service name workflow runners
// register under. The dispatcher counts members of this set before
// accepting async work.
const WorkflowRunnerService = "workflow-runner"

// Registry tracks worker liveness through per-service heartbeat sets.
// Each worker periodically writes its consumer name with the current
// time as score; readers count members with fresh scores.
type Registry struct {
	redis *redis.Client
	log   Logger
	stale time.Duration
}

// NewRegistry creates a worker registry. stale is the window after which
// a heartbeat no longer counts as alive.
func NewRegistry(client *redis.Client, log Logger, stale time.Duration) *Registry {
	if stale <= 0 {
		stale = 15 * time.Second
	}
	return &Registry{
		redis: client,
		log:   log,
		stale: stale,
	}
}

func heartbeatKey(service string) string {
	return "workers:heartbeat:" + service
}

// Heartbeat records that consumer is alive for service
func (r *Registry) Heartbeat(ctx context.Context, service, consumer string) error {
	score := float64(time.Now().UnixNano()) / 1e9
	if err := r.redis.AddToSortedSet(ctx, heartbeatKey(service), consumer, score); err != nil {
		return fmt.Errorf("failed to record heartbeat for %s/%s: %w", service, consumer, err)
	}
	return nil
}

// AliveWorkers returns the number of workers for service whose heartbeat
// is within the staleness window
func (r *Registry) AliveWorkers(ctx context.Context, service string) (int64, error) {
	min := float64(time.Now().UnixNano())/1e9 - r.stale.Seconds()
	count, err := r.redis.CountSortedSetSince(ctx, heartbeatKey(service), min)
	if err != nil {
		return 0, fmt.Errorf("failed to count workers for %s: %w", service, err)
	}
	return count, nil
}

// PruneStale removes heartbeat entries older than the staleness window
func (r *Registry) PruneStale(ctx context.Context, service string) error {
	max := float64(time.Now().UnixNano())/1e9 - r.stale.Seconds()
	if err := r.redis.TrimSortedSetBefore(ctx, heartbeatKey(service), max); err != nil {
		return fmt.Errorf("failed to prune stale workers for %s: %w", service, err)
	}
	return nil
}

// Run sends heartbeats for consumer at the given interval until ctx is
// cancelled. Intended to run in its own goroutine.
func (r *Registry) Run(ctx context.Context, service, consumer string, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	// Record presence immediately so dispatchers see the worker before
	// the first tick
	if err := r.Heartbeat(ctx, service, consumer); err != nil {
		r.log.Error("initial heartbeat failed", "service", service, "consumer", consumer, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Heartbeat(ctx, service, consumer); err != nil {
				r.log.Error("heartbeat failed", "service", service, "consumer", consumer, "error", err)
				continue
			}
			if err := r.PruneStale(ctx, service); err != nil {
				r.log.Debug("heartbeat prune failed", "service", service, "error", err)
			}
		}
	}
}
