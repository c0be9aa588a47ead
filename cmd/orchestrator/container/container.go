package container

import (
	"github.com/lyzr/agentflow/cmd/orchestrator/service"
	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/repository"
)

// Container holds the initialized services (singleton pattern). Nil
// fields mean the backing system is absent and the service degrades.
type Container struct {
	Components  *bootstrap.Components
	RateLimiter *ratelimit.RateLimiter
	Executions  *service.ExecutionService
	Workflows   *service.WorkflowService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	var limiter *ratelimit.RateLimiter
	if components.Redis != nil && components.Config.RateLimit.Enabled {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)
	}

	// Interface variables stay untyped-nil when Postgres is absent, so
	// the services' nil checks keep working.
	var history service.ExecutionHistory
	var workflows service.WorkflowStore
	if components.DB != nil {
		history = repository.NewExecutionRepository(components.DB)
		workflows = repository.NewWorkflowRepository(components.DB)
	}

	executions := service.NewExecutionService(components, history, limiter)

	return &Container{
		Components:  components,
		RateLimiter: limiter,
		Executions:  executions,
		Workflows:   service.NewWorkflowService(components, workflows, executions, limiter),
	}, nil
}
