package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// apiKeyKey carries the workflow API key, sent as X-API-Key
	apiKeyKey contextKey = "api-key"

	// internalSecretKey marks service-to-service calls, sent as
	// X-Internal-Service so rate limits are bypassed
	internalSecretKey contextKey = "internal-secret"
)

// WithAPIKey adds a workflow API key to the context. Requests made
// through HTTPClient send it as the X-API-Key header, which also
// serves as the rate limit identity on the receiving side.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

// GetAPIKey retrieves the API key from context
func GetAPIKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyKey).(string)
	return key, ok && key != ""
}

// WithInternalSecret marks the context as an internal service call.
// The secret travels as the X-Internal-Service header.
func WithInternalSecret(ctx context.Context, secret string) context.Context {
	return context.WithValue(ctx, internalSecretKey, secret)
}

// GetInternalSecret retrieves the internal service secret from context
func GetInternalSecret(ctx context.Context) (string, bool) {
	secret, ok := ctx.Value(internalSecretKey).(string)
	return secret, ok && secret != ""
}
