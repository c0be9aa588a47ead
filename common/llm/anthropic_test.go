package llm

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicCompleteText(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "world"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage: sdk.Usage{
				InputTokens:  10,
				OutputTokens: 5,
			},
		},
	}
	cl := newAnthropicFromMessages(stub, "claude-sonnet-4-20250514")

	resp, err := cl.Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "world" {
		t.Errorf("expected text 'world', got %q", resp.Text)
	}
	if resp.StopReason != string(sdk.StopReasonEndTurn) {
		t.Errorf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	// Request translation: model fallback, system block, user message
	if stub.lastParams.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected default model, got %q", stub.lastParams.Model)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "be brief" {
		t.Errorf("system prompt not encoded: %+v", stub.lastParams.System)
	}
	if len(stub.lastParams.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(stub.lastParams.Messages))
	}
}

func TestAnthropicCompleteToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", Name: "tool_calc", ID: "call-1", Input: json.RawMessage(`{"x":1}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	cl := newAnthropicFromMessages(stub, "claude-sonnet-4-20250514")

	resp, err := cl.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "compute"}},
		Tools: []ToolDefinition{
			{
				Name:        "tool_calc",
				Description: "calculator",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"x": map[string]interface{}{"type": "number"}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "tool_calc" || call.ID != "call-1" {
		t.Errorf("unexpected tool call: %+v", call)
	}
	if call.Arguments != `{"x":1}` {
		t.Errorf("unexpected arguments %q", call.Arguments)
	}

	if len(stub.lastParams.Tools) != 1 {
		t.Errorf("expected 1 encoded tool, got %d", len(stub.lastParams.Tools))
	}
}

func TestAnthropicToolResultRoundTrip(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "42"}},
			StopReason: sdk.StopReasonEndTurn,
		},
	}
	cl := newAnthropicFromMessages(stub, "claude-sonnet-4-20250514")

	_, err := cl.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "compute"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call-1", Name: "tool_calc", Arguments: `{"x":1}`}}},
			{Role: RoleTool, ToolCallID: "call-1", Content: `{"result":42}`},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// user, assistant tool_use, user tool_result
	if len(stub.lastParams.Messages) != 3 {
		t.Fatalf("expected 3 encoded messages, got %d", len(stub.lastParams.Messages))
	}
}

func TestAnthropicRequiresMessages(t *testing.T) {
	cl := newAnthropicFromMessages(&stubMessagesClient{}, "claude-sonnet-4-20250514")
	if _, err := cl.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}
