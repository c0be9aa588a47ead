package middleware

import (
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/ratelimit"
)

// ClientKeyContextKey is where ExtractClientKey stores the resolved
// identity for downstream rate limit checks
const ClientKeyContextKey = "client_key"

// internalHeader marks service-to-service traffic that skips rate
// limiting
const internalHeader = "X-Internal-Service"

// internalBypass reports whether the request carries the shared
// internal secret. With INTERNAL_SERVICE_SECRET unset the bypass is
// disabled entirely; there is no default secret to spoof.
func internalBypass(c echo.Context) bool {
	secret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if secret == "" {
		return false
	}
	return c.Request().Header.Get(internalHeader) == secret
}

// ExtractClientKey resolves the identity rate limit counters are keyed
// by: the API key header when present, the remote address otherwise.
func ExtractClientKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-API-Key")
			if key == "" {
				key = c.RealIP()
			}
			c.Set(ClientKeyContextKey, key)
			return next(c)
		}
	}
}

// GlobalRateLimitMiddleware refuses requests once the service-wide
// budget for the current window is spent. Limiter errors fail open.
func GlobalRateLimitMiddleware(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if internalBypass(c) {
				return next(c)
			}

			result, err := limiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil || result.Allowed {
				return next(c)
			}
			return refuse(c, "global_rate_limit_exceeded",
				"Service is at capacity. Retry shortly.", result)
		}
	}
}

// ClientRateLimitMiddleware refuses requests once one client's budget
// is spent. Requires ExtractClientKey earlier in the chain; requests
// without a resolvable identity pass through.
func ClientRateLimitMiddleware(limiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if internalBypass(c) {
				return next(c)
			}

			clientKey, ok := c.Get(ClientKeyContextKey).(string)
			if !ok || clientKey == "" {
				return next(c)
			}

			result, err := limiter.CheckClientLimit(c.Request().Context(), clientKey, limit, 60)
			if err != nil || result.Allowed {
				return next(c)
			}
			return refuse(c, "client_rate_limit_exceeded",
				"Request quota exhausted. Wait before retrying.", result)
		}
	}
}

// refuse renders the shared 429 shape. Retry-After mirrors the body so
// plain HTTP clients can back off without parsing JSON.
func refuse(c echo.Context, code, message string, result *ratelimit.RateLimitResult) error {
	c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   code,
		"message": message,
		"details": map[string]interface{}{
			"limit":               result.Limit,
			"current_count":       result.CurrentCount,
			"retry_after_seconds": result.RetryAfterSeconds,
		},
	})
}
