package providers

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/pkg/models"
)

type stubTool struct {
	name   string
	schema string
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Schema() json.RawMessage {
	return json.RawMessage(t.schema)
}
func (t *stubTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func newTestOpenAI(t *testing.T) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func TestOpenAIConvertMessages(t *testing.T) {
	p := newTestOpenAI(t)

	msgs := p.convertMessages([]agent.CompletionMessage{
		{Role: "user", Content: "what time is it?"},
		{Role: "assistant", Content: "let me check", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "clock", Input: json.RawMessage(`{"tz":"UTC"}`)},
		}},
		{Role: "tool", ToolResults: []agent.ToolResultMessage{
			{ToolCallID: "call-1", Content: "12:00"},
		}},
	}, "You are punctual.")

	if len(msgs) != 4 {
		t.Fatalf("messages = %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "You are punctual." {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("user message = %+v", msgs[1])
	}
	asst := msgs[2]
	if asst.Role != openai.ChatMessageRoleAssistant || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.ToolCalls[0].Function.Name != "clock" || asst.ToolCalls[0].Function.Arguments != `{"tz":"UTC"}` {
		t.Errorf("tool call = %+v", asst.ToolCalls[0])
	}
	toolMsg := msgs[3]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call-1" || toolMsg.Content != "12:00" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestOpenAIUserMessageWithImage(t *testing.T) {
	p := newTestOpenAI(t)

	msg := p.userMessage(agent.CompletionMessage{
		Role:    "user",
		Content: "what is in this picture?",
		Attachments: []models.Attachment{
			{Type: "image", MimeType: "image/jpeg", URL: "https://example.com/cat.jpg"},
		},
	})

	if msg.Content != "" {
		t.Errorf("plain content should be empty in multi-content form: %q", msg.Content)
	}
	if len(msg.MultiContent) != 2 {
		t.Fatalf("parts = %+v", msg.MultiContent)
	}
	if msg.MultiContent[0].Type != openai.ChatMessagePartTypeText {
		t.Errorf("first part = %+v", msg.MultiContent[0])
	}
	img := msg.MultiContent[1]
	if img.Type != openai.ChatMessagePartTypeImageURL || img.ImageURL.URL != "https://example.com/cat.jpg" {
		t.Errorf("image part = %+v", img)
	}
}

func TestOpenAIUserMessageWithoutImage(t *testing.T) {
	p := newTestOpenAI(t)

	msg := p.userMessage(agent.CompletionMessage{Role: "user", Content: "hello"})
	if msg.Content != "hello" || len(msg.MultiContent) != 0 {
		t.Errorf("message = %+v", msg)
	}
}

func TestOpenAIConvertTools(t *testing.T) {
	p := newTestOpenAI(t)

	tools := p.convertTools([]agent.Tool{
		&stubTool{name: "echo", schema: `{"type":"object","properties":{"text":{"type":"string"}}}`},
	})
	if len(tools) != 1 {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].Type != openai.ToolTypeFunction || tools[0].Function.Name != "echo" {
		t.Errorf("tool = %+v", tools[0])
	}
}
