package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatComplete(t *testing.T) {
	var gotBody chatRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := chatResponse{
			Choices: []chatChoice{
				{
					Message:      &chatChoiceMessage{Role: "assistant", Content: "hi there"},
					FinishReason: "stop",
				},
			},
			Usage: &chatUsage{PromptTokens: 7, CompletionTokens: 3},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cl := NewOpenAICompatClient("sk-test", server.URL, "gpt-4o-mini")
	resp, err := cl.Complete(context.Background(), Request{
		System:   "be helpful",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != "hi there" {
		t.Errorf("expected 'hi there', got %q", resp.Text)
	}
	if resp.StopReason != "stop" {
		t.Errorf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", gotBody.Model)
	}
	// System prompt travels as the first message
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != RoleSystem {
		t.Errorf("system message not first: %+v", gotBody.Messages)
	}
}

func TestOpenAICompatToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{
			Choices: []chatChoice{
				{
					Message: &chatChoiceMessage{
						Role: "assistant",
						ToolCalls: []chatToolCall{
							{ID: "call-9", Type: "function", Function: chatFunctionCall{Name: "memory_7", Arguments: `{"value":"x"}`}},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	cl := NewOpenAICompatClient("", server.URL, "gpt-4o-mini")
	resp, err := cl.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "remember x"}},
		Tools: []ToolDefinition{
			{Name: "memory_7", Description: "write memory", Parameters: map[string]interface{}{"type": "object"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "memory_7" || resp.ToolCalls[0].Arguments != `{"value":"x"}` {
		t.Errorf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
}

func TestOpenAICompatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cl := NewOpenAICompatClient("", server.URL, "gpt-4o-mini")
	_, err := cl.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}
