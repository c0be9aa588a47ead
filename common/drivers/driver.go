package drivers

import (
	"context"

	"github.com/lyzr/agentflow/common/llm"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/workflow"
)

// Logger interface for driver operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Driver executes one node type. Implementations hold their wiring (store,
// LLM client) but no per-execution state: everything about a run arrives
// through the node and the workflow context.
type Driver interface {
	Type() string
	Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse
}

// Registry maps node-type strings to drivers. It is populated during
// startup and read-only afterwards, so dispatch needs no locking.
type Registry struct {
	drivers map[string]Driver
	log     Logger
}

// NewRegistry creates an empty driver registry.
func NewRegistry(log Logger) *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
		log:     log,
	}
}

// Register adds a driver under its type string, replacing any previous one.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Type()] = d
}

// Types returns the registered node types in no particular order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.drivers))
	for t := range r.drivers {
		types = append(types, t)
	}
	return types
}

// Has reports whether a driver is registered for nodeType.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.drivers[nodeType]
	return ok
}

// Execute dispatches a node to the driver registered for nodeType. The type
// is passed separately from the node because agent function calls force
// "tool" dispatch on connected nodes regardless of the node's own type.
// A panicking driver is converted into an error response so one bad node
// cannot take down the worker.
func (r *Registry) Execute(ctx context.Context, nodeType string, node *workflow.Node, wctx *workflow.Context) (resp workflow.DriverResponse) {
	d, ok := r.drivers[nodeType]
	if !ok {
		return workflow.ErrorResponse("No driver registered for '%s'", nodeType)
	}
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log.Error("driver panicked", "type", nodeType, "node", node.ID, "panic", rec)
			}
			resp = workflow.ErrorResponse("%v", rec)
		}
	}()
	return d.Execute(ctx, node, wctx)
}

// Deps carries the shared services the default driver set is built from.
// Nil LLM clients put the corresponding agent driver into offline mode.
type Deps struct {
	Store     memstore.Store
	OpenAI    llm.Client
	Anthropic llm.Client
	Ollama    llm.Client
	Log       Logger
}

// RegisterDefaults wires the full built-in driver set into the registry.
func RegisterDefaults(reg *Registry, deps Deps) {
	reg.Register(InputDriver{})
	reg.Register(OutputDriver{})
	reg.Register(RouterDriver{})
	reg.Register(NewConditionDriver())
	reg.Register(ParallelDriver{})
	reg.Register(JoinDriver{})
	reg.Register(NewMemoryDriver(deps.Store, deps.Log))
	reg.Register(ToolDriver{})
	reg.Register(NewWebhookDriver(deps.Log))
	reg.Register(TextTransformDriver{})
	reg.Register(SleepDriver{})
	reg.Register(JSONValidatorDriver{})
	reg.Register(NewLoopDriver(reg, deps.Log))
	reg.Register(NewForEachDriver(reg, deps.Log))

	reg.Register(NewAgentDriver(AgentConfig{
		Type:         "openai_agent",
		Label:        "OpenAI Agent",
		DefaultModel: "gpt-4o-mini",
		ErrorPrefix:  "OpenAI API failed",
		OfflineNote:  "OpenAI API key not configured",
	}, deps.OpenAI, reg, deps.Store, deps.Log))

	reg.Register(NewAgentDriver(AgentConfig{
		Type:         "claude_agent",
		Label:        "Claude Agent",
		DefaultModel: "claude-sonnet-4-5-20250929",
		ErrorPrefix:  "Claude API failed",
		OfflineNote:  "Anthropic API key not configured",
	}, deps.Anthropic, reg, deps.Store, deps.Log))

	reg.Register(NewAgentDriver(AgentConfig{
		Type:         "ollama_agent",
		Label:        "Ollama Agent",
		DefaultModel: "llama3.1:8b-instruct",
		ErrorPrefix:  "Ollama connection failed",
		OfflineNote:  "Ollama not configured",
	}, deps.Ollama, reg, deps.Store, deps.Log))
}
