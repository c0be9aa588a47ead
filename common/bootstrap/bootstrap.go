package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/drivers"
	"github.com/lyzr/agentflow/common/llm"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/queue"
	"github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/common/worker"
)

const redisDialTimeout = 5 * time.Second

// Setup initializes all service components. This is the entry point
// every binary goes through; options trim what a given service does
// not need.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger, tagged with the service it belongs to
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat).Named(serviceName)
	}
	log := components.Logger

	log.Info("initializing service", "environment", cfg.Service.Environment)

	components.ConsumerName = options.consumerName
	if components.ConsumerName == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = serviceName
		}
		components.ConsumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	// 3. Postgres. Optional: without it workflow definitions and run
	// history live only in memory.
	if !options.skipDB && cfg.Database.Enabled {
		log.Info("connecting to database", "host", cfg.Database.Host)
		components.DB, err = db.New(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			log.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			log.Info("running database init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook failed: %w", err)
			}
		}
	}

	// 4. Redis. A failed ping is not fatal: the service keeps running
	// on in-process fallbacks and async dispatch is refused.
	if !options.skipRedis {
		raw := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client := redis.NewClient(raw, log)

		pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		err := client.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis unreachable, running degraded", "addr", cfg.Redis.Addr, "error", err)
			raw.Close()
		} else {
			components.Redis = client
			components.addCleanup(func() error {
				log.Info("closing redis connection")
				return raw.Close()
			})
		}
	}

	// 5. Task queue: Redis streams when available, in-process otherwise
	if !options.skipQueue {
		if components.Redis != nil {
			components.Queue = queue.NewRedisStreamQueue(
				components.Redis,
				cfg.Execution.ConsumerGroup,
				components.ConsumerName,
				log,
			)
		} else {
			components.Queue = queue.NewMemoryQueue(log)
		}

		components.addCleanup(func() error {
			log.Info("closing queue")
			return components.Queue.Close()
		})
	}

	// 6. Status cache, same split as the queue
	if components.Redis != nil {
		components.Cache = cache.NewRedisCache(components.Redis)
	} else {
		components.Cache = cache.NewMemoryCache(log)
	}
	components.addCleanup(func() error {
		log.Info("closing cache")
		return components.Cache.Close()
	})

	// 7. Memory store ladder over whatever backends came up
	components.Store = memstore.NewSelector(ctx, components.DB, components.Redis, log)

	// 8. Driver registry with LLM clients from config
	components.Drivers = drivers.NewRegistry(log)
	drivers.RegisterDefaults(components.Drivers, drivers.Deps{
		Store:     components.Store,
		OpenAI:    openAIClient(cfg),
		Anthropic: anthropicClient(cfg, log),
		Ollama:    ollamaClient(cfg),
		Log:       log,
	})

	// 9. Worker liveness registry, Redis-backed only
	if components.Redis != nil {
		components.Workers = worker.NewRegistry(components.Redis, log, cfg.Execution.HeartbeatStale)
	}

	// 10. Telemetry
	if !options.skipTelemetry && cfg.Telemetry.EnablePprof {
		components.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, log)
		if err := components.Telemetry.Start(ctx); err != nil {
			log.Warn("failed to start telemetry", "error", err)
		} else {
			components.addCleanup(func() error {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return components.Telemetry.Stop(stopCtx)
			})
		}
	}

	log.Info("service initialization complete",
		"consumer", components.ConsumerName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"workers", components.Workers != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error. For binaries that have
// nothing sensible to do after a failed init.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

func anthropicClient(cfg *config.Config, log *logger.Logger) llm.Client {
	if cfg.LLM.AnthropicAPIKey == "" {
		return nil
	}
	client, err := llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicModel)
	if err != nil {
		log.Warn("anthropic client unavailable, agent runs offline", "error", err)
		return nil
	}
	return client
}

func openAIClient(cfg *config.Config) llm.Client {
	if cfg.LLM.OpenAIAPIKey == "" {
		return nil
	}
	return llm.NewOpenAICompatClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIModel)
}

func ollamaClient(cfg *config.Config) llm.Client {
	if cfg.LLM.OllamaBaseURL == "" {
		return nil
	}
	return llm.NewOllamaClient(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel)
}
