package agent

import (
	"context"
	"encoding/json"

	"github.com/loopwork/factotum/pkg/models"
)

// LLMProvider is the interface reasoning backends implement.
//
// Implementations handle the specifics of one LLM API (Anthropic, OpenAI)
// while presenting a unified streaming surface to the orchestrator. They
// must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest carries one reasoning call: conversation so far, system
// prompt, available tools, and generation limits.
type CompletionRequest struct {
	// Model selects the LLM model; empty uses the provider default.
	Model string `json:"model"`

	// System sets the assistant's behavior and persona.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may request; empty disables tool calling.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the response; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single turn in a conversation. Role is "user",
// "assistant", or "tool".
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls holds tool requests made by the assistant on this turn.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds outputs being returned for earlier tool calls.
	ToolResults []ToolResultMessage `json:"tool_results,omitempty"`

	// Attachments carries images for vision-capable models.
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// ToolResultMessage pairs a tool call ID with its output for the next
// reasoning turn.
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk is one element of a streaming response. A chunk carries
// partial text, a complete tool call, a terminal error, or the done signal
// with token counts.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// Token counts are populated on the final chunk only.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool is the interface executable tools implement.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the
	// tool does, used by the LLM to decide when to call it.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with parameters matching Schema().
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of one tool execution. Tool failures are
// communicated with IsError=true so the model can react; a Go error from
// Execute means the tool itself broke.
type ToolResult struct {
	// Content is the tool's output.
	Content string `json:"content"`

	// IsError marks the content as an error message.
	IsError bool `json:"is_error,omitempty"`

	// Delivered means the tool already sent its output to the chat
	// directly. The orchestrator finishes the session without composing
	// a text response.
	Delivered bool `json:"delivered,omitempty"`
}

// Describer is implemented by tools that can phrase a progress line for
// the status message, given the parameters they are about to run with.
type Describer interface {
	Describe(params json.RawMessage) string
}
