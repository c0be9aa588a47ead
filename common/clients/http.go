package clients

import (
	"context"
	"io"
	"net/http"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPClient wraps http.Client with context-aware helpers. Metadata
// carried in the context becomes request headers, so callers never
// thread credentials through their own signatures.
type HTTPClient struct {
	client *http.Client
	logger Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// DoRequest creates and executes an HTTP request, converting context
// metadata into headers.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if apiKey, ok := GetAPIKey(ctx); ok {
		req.Header.Set("X-API-Key", apiKey)
		c.logger.Debug("added X-API-Key header from context")
	}

	if secret, ok := GetInternalSecret(ctx); ok {
		req.Header.Set("X-Internal-Service", secret)
	}

	return c.client.Do(req)
}
