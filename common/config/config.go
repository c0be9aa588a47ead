package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Execution ExecutionConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings. Enabled is derived:
// when no host is configured the services run without Postgres and the
// memory store starts lower on its backend ladder.
type DatabaseConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ExecutionConfig holds engine and dispatcher settings
type ExecutionConfig struct {
	// TTL of execution_<id> progress records in the cache
	StatusTTL time.Duration
	// Stream the async dispatcher publishes execution tasks to
	TaskStream string
	// Consumer group for workflow runners
	ConsumerGroup string
	// Number of concurrent executions a runner processes
	WorkerConcurrency int
	// How often runners heartbeat into the liveness registry
	HeartbeatInterval time.Duration
	// How stale a heartbeat may be before a worker counts as gone
	HeartbeatStale time.Duration
	// Upper bound on waiting for parallel branches to join
	JoinTimeout time.Duration
	// Age at which a running history row with no live progress record
	// is declared dead. Must exceed the longest legitimate execution.
	StaleAfter time.Duration
}

// LLMConfig holds provider credentials and defaults for agent drivers.
// Ollama needs no key; agents fall back to offline mode when a
// provider's key (or, for Ollama, base URL) is absent.
type LLMConfig struct {
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OllamaBaseURL   string
	OllamaModel     string
	Timeout         time.Duration
}

// RateLimitConfig toggles async-dispatch rate limiting
type RateLimitConfig struct {
	Enabled bool
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	pgHost := getEnv("POSTGRES_HOST", "")
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Enabled:     pgHost != "",
			Host:        pgHost,
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "agentflow"),
			User:        getEnv("POSTGRES_USER", "agentflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "agentflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Execution: ExecutionConfig{
			StatusTTL:         getEnvDuration("EXECUTION_STATUS_TTL", 300*time.Second),
			TaskStream:        getEnv("EXECUTION_TASK_STREAM", "workflow.executions"),
			ConsumerGroup:     getEnv("EXECUTION_CONSUMER_GROUP", "workflow-runners"),
			WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
			HeartbeatInterval: getEnvDuration("WORKER_HEARTBEAT_INTERVAL", 5*time.Second),
			HeartbeatStale:    getEnvDuration("WORKER_HEARTBEAT_STALE", 15*time.Second),
			JoinTimeout:       getEnvDuration("PARALLEL_JOIN_TIMEOUT", 300*time.Second),
			StaleAfter:        getEnvDuration("EXECUTION_STALE_AFTER", 2*time.Hour),
		},
		LLM: LLMConfig{
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OllamaBaseURL:   getEnv("OLLAMA_BASE_URL", ""),
			OllamaModel:     getEnv("OLLAMA_MODEL", "llama3.1"),
			Timeout:         getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", false),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Enabled && c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Execution.WorkerConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
