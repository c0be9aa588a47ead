package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for rate limit logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult is the outcome of one budget check
type RateLimitResult struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// RateLimiter enforces fixed-window request budgets in Redis. The
// window arithmetic lives in a Lua script so increment and expiry stay
// atomic under concurrent dispatchers.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRateLimiter creates a limiter with the embedded window script
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckGlobalLimit charges the service-wide budget
func (r *RateLimiter) CheckGlobalLimit(ctx context.Context, limit int64) (*RateLimitResult, error) {
	return r.checkLimit(ctx, "rate_limit:global", limit, DefaultGlobalConfig.WindowSeconds)
}

// CheckClientLimit charges one client's budget. The client key is the
// API key when present, the remote address otherwise.
func (r *RateLimiter) CheckClientLimit(ctx context.Context, clientKey string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:client:%s", clientKey)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckWorkflowLimit charges a client's budget for one stored workflow.
// Gates the trigger endpoint so a single workflow cannot soak up the
// whole client allowance.
func (r *RateLimiter) CheckWorkflowLimit(ctx context.Context, clientKey, workflowID string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:workflow:%s:%s", clientKey, workflowID)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckTieredLimit charges the budget of the workflow's cost tier.
// Tiers keep separate counters, so heavy graphs exhausting their small
// budget never block a client's simple ones.
func (r *RateLimiter) CheckTieredLimit(ctx context.Context, clientKey string, tier WorkflowTier) (*RateLimitResult, error) {
	key := fmt.Sprintf("rate_limit:client:%s:tier:%s", clientKey, tier)
	return r.checkLimit(ctx, key, GetLimitForTier(tier), GetWindowForTier(tier))
}

// checkLimit runs the window script against one counter key
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*RateLimitResult, error) {
	reply, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	result, err := decodeScriptReply(reply)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit)
	}

	return result, nil
}

// decodeScriptReply parses the {allowed, current, limit, retry_after}
// array the script returns.
func decodeScriptReply(reply interface{}) (*RateLimitResult, error) {
	fields, ok := reply.([]interface{})
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script reply: %T", reply)
	}

	nums := make([]int64, len(fields))
	for i, f := range fields {
		n, ok := f.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected rate limit script reply field %d: %T", i, f)
		}
		nums[i] = n
	}

	return &RateLimitResult{
		Allowed:           nums[0] == 1,
		CurrentCount:      nums[1],
		Limit:             nums[2],
		RetryAfterSeconds: nums[3],
	}, nil
}
