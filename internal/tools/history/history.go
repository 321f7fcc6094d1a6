// Package history exposes the chat transcript to the model as a tool.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/internal/storage"
)

const maxLookback = 200

// Tool fetches recent transcript records for the current chat. The chat is
// resolved from the execution context, so one instance serves all chats.
type Tool struct {
	store storage.TranscriptStore
}

// New creates a history tool over the transcript store.
func New(store storage.TranscriptStore) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Name() string {
	return "chat_history"
}

func (t *Tool) Description() string {
	return "Look up earlier messages from this conversation. Useful when the user refers to something said before."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"count": {
				"type": "integer",
				"description": "How many recent messages to fetch (default 20, max 200)",
				"minimum": 1,
				"maximum": 200
			}
		}
	}`)
}

func (t *Tool) Describe(json.RawMessage) string {
	return "Reading the conversation history..."
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Count int `json:"count"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
		}
	}
	if p.Count <= 0 {
		p.Count = 20
	}
	if p.Count > maxLookback {
		p.Count = maxLookback
	}

	chatID, ok := agent.ChatIDFromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no chat bound to this session", IsError: true}, nil
	}

	records, err := t.store.Recent(ctx, chatID, p.Count)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("history lookup failed: %v", err), IsError: true}, nil
	}
	if len(records) == 0 {
		return &agent.ToolResult{Content: "no earlier messages in this conversation"}, nil
	}

	var b strings.Builder
	for _, rec := range records {
		who := rec.Sender
		if rec.IsFromBot {
			who = "assistant"
		} else if who == "" {
			who = "user"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", rec.Timestamp.Format("2006-01-02 15:04"), who, rec.Text)
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

var _ agent.Tool = (*Tool)(nil)
