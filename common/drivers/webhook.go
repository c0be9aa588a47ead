package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/agentflow/common/workflow"
)

// webhookDefaultTimeout is the request deadline in seconds when the node
// does not set one.
const webhookDefaultTimeout = 30

// WebhookDriver delivers the running input to an external HTTP endpoint.
// The target URL is screened through the SSRF guard before any
// connection is opened, so graphs cannot be used to probe internal
// services.
//
// Node data: url (required, supports {input}), method, headers (JSON
// object or "Key: Value" lines), body (supports {input}, defaults to the
// input itself), timeout (seconds), auth_type (bearer/token/api_key) with
// auth_token.
type WebhookDriver struct {
	guard  *urlGuard
	client *http.Client
	log    Logger
}

// NewWebhookDriver creates a webhook driver. Per-request deadlines come
// from node data, so the shared client carries none.
func NewWebhookDriver(log Logger) *WebhookDriver {
	return &WebhookDriver{
		guard:  newURLGuard(),
		client: &http.Client{},
		log:    log,
	}
}

func (*WebhookDriver) Type() string { return "webhook" }

func (d *WebhookDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	method := strings.ToUpper(node.DataString("method", "POST"))
	timeout := node.DataInt("timeout", webhookDefaultTimeout)
	if timeout <= 0 {
		timeout = webhookDefaultTimeout
	}

	inputStr := stringify(wctx.Input)
	targetURL := strings.ReplaceAll(node.DataString("url", ""), "{input}", inputStr)
	if targetURL == "" {
		return workflow.ErrorResponse("Webhook URL is required")
	}
	if err := d.guard.Validate(targetURL); err != nil {
		return workflow.ErrorResponse("Webhook URL rejected: %v", err)
	}

	body := node.DataString("body", "")
	if body == "" {
		body = inputStr
	} else {
		body = strings.ReplaceAll(body, "{input}", inputStr)
	}

	headers := parseHeaderBlock(node.DataString("headers", ""))
	applyWebhookAuth(headers, node.DataString("auth_type", "none"), node.DataString("auth_token", ""))

	var reqBody io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		// no request body
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		if _, set := headers["Content-Type"]; !set {
			if json.Valid([]byte(body)) {
				headers["Content-Type"] = "application/json"
			} else {
				headers["Content-Type"] = "text/plain"
			}
		}
		reqBody = strings.NewReader(body)
	default:
		return workflow.ErrorResponse("Unsupported HTTP method: %s", method)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, targetURL, reqBody)
	if err != nil {
		return workflow.ErrorResponse("Request failed: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return workflow.ErrorResponse("Request timed out after %d seconds", timeout)
		}
		return workflow.ErrorResponse("Connection error: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return workflow.ErrorResponse("Request failed: %v", err)
	}

	if d.log != nil {
		d.log.Debug("webhook delivered",
			"node", node.ID,
			"method", method,
			"status", resp.StatusCode,
		)
	}

	var output interface{}
	if err := json.Unmarshal(raw, &output); err != nil {
		output = string(raw)
	}

	return workflow.OKResponse(output).
		WithExtra("status_code", resp.StatusCode).
		WithExtra("headers", firstHeaderValues(resp.Header)).
		WithExtra("url", targetURL).
		WithExtra("method", method)
}

// parseHeaderBlock accepts either a JSON object or newline-separated
// "Key: Value" pairs.
func parseHeaderBlock(raw string) map[string]string {
	headers := map[string]string{}
	if raw == "" {
		return headers
	}

	if err := json.Unmarshal([]byte(raw), &headers); err == nil {
		return headers
	}

	headers = map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}

func applyWebhookAuth(headers map[string]string, authType, token string) {
	if token == "" {
		return
	}
	switch authType {
	case "bearer":
		headers["Authorization"] = "Bearer " + token
	case "token":
		headers["Authorization"] = "Token " + token
	case "api_key":
		headers["X-API-Key"] = token
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstHeaderValues(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}
