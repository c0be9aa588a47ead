// Package llm defines the chat-completion boundary agent drivers use
// and the provider clients behind it.
package llm

import "context"

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation. Assistant turns may carry
// tool calls; tool turns carry the result for one call via ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition describes a function the model may call. Parameters is
// a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a model-requested function invocation. Arguments is the
// raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token consumption for one completion
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is a provider-independent completion request
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Response is a provider-independent completion response
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Client is the provider boundary. Implementations must honor ctx
// cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}
