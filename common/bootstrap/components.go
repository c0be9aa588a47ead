package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/drivers"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/queue"
	"github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/common/worker"
)

// Components holds the initialized service dependencies. DB, Redis and
// Workers are nil when the backing system is not configured or not
// reachable; services degrade around them (memory queue and cache,
// memstore on its lowest rung, async dispatch refused).
type Components struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *db.DB
	Redis        *redis.Client
	Queue        queue.Queue
	Cache        cache.Cache
	Store        memstore.Store
	Drivers      *drivers.Registry
	Workers      *worker.Registry
	Telemetry    *telemetry.Telemetry
	ConsumerName string

	cleanupFuncs []func() error
}

// Shutdown releases all components in reverse initialization order.
// Call with defer after Setup().
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the backing systems that can actually fail. The memory
// queue and cache have no failure mode worth reporting.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}

	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
