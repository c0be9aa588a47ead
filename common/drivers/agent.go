package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/lyzr/agentflow/common/llm"
	"github.com/lyzr/agentflow/common/memstore"
	"github.com/lyzr/agentflow/common/workflow"
)

const (
	// agentCallTimeout bounds one full agent conversation, tool rounds
	// included.
	agentCallTimeout = 60 * time.Second

	// maxToolRounds caps the model's tool-call loop.
	maxToolRounds = 4

	// knowledgeBlockLimit truncates the rendered knowledge JSON in the
	// system prompt.
	knowledgeBlockLimit = 4000
)

// AgentConfig is the per-provider flavor of the shared agent driver.
type AgentConfig struct {
	Type         string
	Label        string
	DefaultModel string
	ErrorPrefix  string
	OfflineNote  string
}

// AgentDriver runs an LLM-backed agent node. One implementation serves all
// providers; the type string, default model and client vary per instance.
//
// The context builder hands the driver its connected memory nodes (as
// knowledge plus writable memory functions) and tool nodes (as callable
// functions). Tool and memory calls requested by the model are executed
// locally, tools by re-entering the registry, memory by writing the store,
// and their results are fed back into the conversation for up to
// maxToolRounds rounds.
type AgentDriver struct {
	cfg    AgentConfig
	client llm.Client
	reg    *Registry
	store  memstore.Store
	log    Logger
}

// NewAgentDriver creates an agent driver for one provider. A nil client
// puts the driver into offline mode, where it answers deterministically
// instead of calling out.
func NewAgentDriver(cfg AgentConfig, client llm.Client, reg *Registry, store memstore.Store, log Logger) *AgentDriver {
	return &AgentDriver{cfg: cfg, client: client, reg: reg, store: store, log: log}
}

func (d *AgentDriver) Type() string { return d.cfg.Type }

func (d *AgentDriver) Execute(ctx context.Context, node *workflow.Node, wctx *workflow.Context) workflow.DriverResponse {
	label := node.DataString("label", d.cfg.Label)
	model := node.DataString("model", d.cfg.DefaultModel)
	temperature := node.DataFloat("temperature", 0.2)
	system := d.systemPrompt(node, wctx.Knowledge)
	inputText := stringify(wctx.Input)

	if d.client == nil {
		return d.offlineResponse(inputText, label, wctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, agentCallTimeout)
	defer cancel()

	text, callLog, err := d.converse(callCtx, wctx, model, temperature, system, inputText)
	if err != nil {
		msg := fmt.Sprintf("%s: %v", d.cfg.ErrorPrefix, err)
		if d.log != nil {
			d.log.Error("agent call failed", "type", d.cfg.Type, "node", node.ID, "error", err)
		}
		if node.ContinueOnError() {
			r := workflow.OKResponse(wctx.Input)
			r.Error = msg
			r.ErrorType = "api_error"
			r.HadError = true
			return r
		}
		r := workflow.ErrorResponse("%s", msg)
		r.SetOutput(wctx.Input)
		r.ErrorType = "api_error"
		return r
	}

	return workflow.OKResponse(text).
		WithExtra("model", model).
		WithExtra("tool_call_log", callLog)
}

// converse runs the chat loop: complete, execute any requested tool or
// memory calls, feed the results back, repeat until the model answers
// without calls or the round cap is hit.
func (d *AgentDriver) converse(ctx context.Context, wctx *workflow.Context, model string, temperature float64, system, inputText string) (string, []map[string]interface{}, error) {
	callLog := []map[string]interface{}{}
	tools := d.toolDefinitions(wctx)
	messages := []llm.Message{{Role: llm.RoleUser, Content: inputText}}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := d.client.Complete(ctx, llm.Request{
			Model:       model,
			System:      system,
			Messages:    messages,
			Tools:       tools,
			Temperature: temperature,
		})
		if err != nil {
			return "", callLog, err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Text, callLog, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			args := decodeArgs(call.Arguments)
			result := d.dispatchCall(ctx, call.Name, args, wctx)
			content, _ := json.Marshal(result)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(content),
				ToolCallID: call.ID,
			})
			callLog = append(callLog, map[string]interface{}{
				"name":   call.Name,
				"args":   args,
				"result": result,
			})
		}
	}

	// round cap exhausted without a final answer
	return "", callLog, nil
}

// systemPrompt builds the system prompt from node data plus a rendered
// knowledge block when memory nodes contributed one.
func (d *AgentDriver) systemPrompt(node *workflow.Node, knowledge map[string]interface{}) string {
	prompt := node.DataString("system", "")
	if prompt == "" {
		prompt = "You are a helpful assistant."
	}
	if len(knowledge) > 0 {
		if b, err := json.Marshal(knowledge); err == nil {
			blob := string(b)
			if len(blob) > knowledgeBlockLimit {
				blob = blob[:knowledgeBlockLimit]
			}
			prompt = prompt + "\n\nSupplemental knowledge (JSON):\n" + blob
		}
	}
	return prompt
}

// offlineResponse produces a deterministic stand-in when no provider is
// configured, so graphs remain runnable in tests and air-gapped setups.
func (d *AgentDriver) offlineResponse(inputText, label string, wctx *workflow.Context) workflow.DriverResponse {
	msg := fmt.Sprintf("%s processed: %s", label, inputText)
	if len(wctx.Knowledge) > 0 {
		if b, err := json.Marshal(wctx.Knowledge); err == nil {
			msg += " | ctx: " + string(b)
		}
	}
	if len(wctx.AgentTools) > 0 {
		names := make([]string, len(wctx.AgentTools))
		for i, t := range wctx.AgentTools {
			names[i] = t.Name
		}
		msg += fmt.Sprintf(" | tools: %v", names)
	}
	if d.cfg.OfflineNote != "" {
		msg += " | note: " + d.cfg.OfflineNote
	}

	r := workflow.OKResponse(msg)
	if wctx.Knowledge != nil {
		r = r.WithExtra("knowledge", wctx.Knowledge)
	}
	return r.WithExtra("tool_call_log", []map[string]interface{}{})
}

// toolDefinitions renders the connected tool and memory nodes as
// LLM-visible functions named tool_<id> and memory_<id>.
func (d *AgentDriver) toolDefinitions(wctx *workflow.Context) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, t := range wctx.AgentTools {
		name := t.Name
		if name == "" {
			name = "Tool " + t.NodeID
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        "tool_" + t.NodeID,
			Description: fmt.Sprintf("Invoke connected tool '%s'", name),
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"input":  map[string]interface{}{"type": []string{"string", "null"}, "description": "Optional input override"},
					"params": map[string]interface{}{"type": "object", "description": "Optional parameters"},
				},
			},
		})
	}
	for _, m := range wctx.AgentMemoryNodes {
		defs = append(defs, llm.ToolDefinition{
			Name:        "memory_" + m.NodeID,
			Description: fmt.Sprintf("Persist extracted info to memory key '%s' in namespace '%s'.", m.Key, m.Namespace),
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"value":  map[string]interface{}{"description": "Data to store (any JSON)"},
					"mode":   map[string]interface{}{"type": "string", "enum": []string{"replace", "append", "merge"}, "description": "Replace, append to list, or merge objects"},
					"dedupe": map[string]interface{}{"type": []string{"boolean", "null"}, "description": "De-duplicate when appending lists"},
				},
				"required": []string{"value"},
			},
		})
	}
	return defs
}

// dispatchCall executes one model-requested function call.
func (d *AgentDriver) dispatchCall(ctx context.Context, name string, args map[string]interface{}, wctx *workflow.Context) map[string]interface{} {
	switch {
	case strings.HasPrefix(name, "memory_"):
		return d.memoryWrite(ctx, strings.TrimPrefix(name, "memory_"), name, args, wctx)
	case strings.HasPrefix(name, "tool_"):
		return d.toolCall(ctx, strings.TrimPrefix(name, "tool_"), name, args, wctx)
	default:
		return map[string]interface{}{"status": "error", "error": fmt.Sprintf("unknown tool %s", name)}
	}
}

// toolCall re-enters the registry to execute a connected tool node, with
// optional input and params overrides from the call arguments.
func (d *AgentDriver) toolCall(ctx context.Context, nodeID, fnName string, args map[string]interface{}, wctx *workflow.Context) map[string]interface{} {
	node, ok := wctx.AgentToolNodes[nodeID]
	if !ok {
		return map[string]interface{}{"status": "error", "error": fmt.Sprintf("unknown tool %s", fnName)}
	}

	toolCtx := wctx.Clone()
	if v, present := args["input"]; present {
		toolCtx.Input = v
	}
	if v, present := args["params"].(map[string]interface{}); present {
		toolCtx.Params = v
	}

	return responseMap(d.reg.Execute(ctx, "tool", &node, toolCtx))
}

// memoryWrite applies a model-requested write to the memory store using
// the connected memory node's namespace and key.
func (d *AgentDriver) memoryWrite(ctx context.Context, nodeID, fnName string, args map[string]interface{}, wctx *workflow.Context) map[string]interface{} {
	mnode, ok := wctx.AgentMemoryNodeMap[nodeID]
	if !ok {
		return map[string]interface{}{"status": "error", "error": fmt.Sprintf("unknown memory node %s", fnName)}
	}
	key := mnode.DataString("key", "memory")
	namespace := mnode.DataString("namespace", "")
	if namespace == "" {
		namespace = "default"
	}

	mode, _ := args["mode"].(string)
	mode = strings.ToLower(mode)
	dedupe := true
	if v, ok := args["dedupe"].(bool); ok {
		dedupe = v
	}
	value := args["value"]

	storeKey := memstore.Key(namespace, key)
	previous, err := d.store.Get(ctx, storeKey)
	if err != nil {
		return map[string]interface{}{"status": "error", "error": err.Error()}
	}

	var stored interface{}
	switch {
	case mode == "append":
		var base []interface{}
		switch p := previous.(type) {
		case nil:
		case []interface{}:
			base = append(base, p...)
		default:
			base = append(base, p)
		}
		vals, ok := value.([]interface{})
		if !ok {
			vals = []interface{}{value}
		}
		if dedupe {
			for _, v := range vals {
				if !containsValue(base, v) {
					base = append(base, v)
				}
			}
		} else {
			base = append(base, vals...)
		}
		stored = base

	case mode == "merge" && isMap(value):
		base, _ := previous.(map[string]interface{})
		vm := value.(map[string]interface{})
		merged := make(map[string]interface{}, len(base)+len(vm))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range vm {
			merged[k] = v
		}
		stored = merged

	default: // replace
		stored = value
	}

	if err := d.store.Set(ctx, storeKey, stored); err != nil {
		return map[string]interface{}{"status": "error", "error": err.Error()}
	}

	return map[string]interface{}{
		"status":    "ok",
		"operation": "memory_write",
		"key":       key,
		"namespace": namespace,
		"previous":  previous,
		"stored":    stored,
	}
}

func decodeArgs(raw string) map[string]interface{} {
	var args map[string]interface{}
	if json.Unmarshal([]byte(raw), &args) != nil || args == nil {
		return map[string]interface{}{}
	}
	return args
}

func isMap(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// responseMap flattens a driver response into the plain map shape fed back
// to the model.
func responseMap(resp workflow.DriverResponse) map[string]interface{} {
	b, err := json.Marshal(resp)
	if err != nil {
		return map[string]interface{}{"status": "error", "error": err.Error()}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{"status": "error", "error": err.Error()}
	}
	return m
}
