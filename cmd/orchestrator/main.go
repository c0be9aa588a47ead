package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/agentflow/cmd/orchestrator/container"
	"github.com/lyzr/agentflow/cmd/orchestrator/handlers"
	"github.com/lyzr/agentflow/cmd/orchestrator/routes"
	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/middleware"
	"github.com/lyzr/agentflow/common/ratelimit"
	"github.com/lyzr/agentflow/common/repository"
	"github.com/lyzr/agentflow/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, queue, cache, drivers, telemetry)
	components, err := bootstrap.Setup(ctx, "orchestrator", bootstrap.WithDBInitHook(ensureSchema))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap orchestrator: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		components.Logger.Error("Failed to initialize service container", "error", err)
		return
	}

	e := setupEcho()
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	// Start with graceful shutdown; fall through on error so deferred
	// cleanup still runs
	srv := server.New("orchestrator", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, serviceContainer *container.Container) {
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.ExtractClientKey())

	if serviceContainer.RateLimiter != nil {
		e.Use(middleware.GlobalRateLimitMiddleware(serviceContainer.RateLimiter, ratelimit.DefaultGlobalConfig.Limit))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		status := "ok"
		code := http.StatusOK
		if err := components.Health(c.Request().Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		body := map[string]interface{}{
			"status":  status,
			"service": "orchestrator",
			"drivers": components.Drivers.Types(),
		}
		if components.DB != nil {
			body["db_pool"] = components.DB.Stats()
		}
		return c.JSON(code, body)
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	executionHandler := handlers.NewExecutionHandler(serviceContainer.Executions)
	workflowHandler := handlers.NewWorkflowHandler(serviceContainer.Workflows, serviceContainer.Executions)

	routes.RegisterExecutionRoutes(e, executionHandler)
	routes.RegisterWorkflowRoutes(e, workflowHandler)
}

// ensureSchema creates the orchestrator's tables on startup
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
