// Package vision implements an image analysis tool that round-trips the
// image through a vision-capable model.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/pkg/models"
)

// Tool describes images using the configured LLM provider.
type Tool struct {
	provider agent.LLMProvider
	model    string
}

// New creates a vision tool. model may be empty to use the provider default.
func New(provider agent.LLMProvider, model string) *Tool {
	return &Tool{provider: provider, model: model}
}

func (t *Tool) Name() string {
	return "analyze_image"
}

func (t *Tool) Description() string {
	return "Analyze an image at a URL and answer a question about it. Use for photos the user shared or linked."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "URL of the image to analyze (https or data URL)"
			},
			"question": {
				"type": "string",
				"description": "What to determine about the image (default: describe it)"
			}
		},
		"required": ["url"]
	}`)
}

func (t *Tool) Describe(json.RawMessage) string {
	return "Looking at the image..."
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		URL      string `json:"url"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.URL == "" {
		return &agent.ToolResult{Content: "url parameter is required", IsError: true}, nil
	}
	if p.Question == "" {
		p.Question = "Describe this image in detail."
	}

	req := &agent.CompletionRequest{
		Model: t.model,
		Messages: []agent.CompletionMessage{{
			Role:    "user",
			Content: p.Question,
			Attachments: []models.Attachment{{
				Type: "image",
				URL:  p.URL,
			}},
		}},
	}

	chunks, err := t.provider.Complete(ctx, req)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("image analysis failed: %v", err), IsError: true}, nil
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("image analysis failed: %v", chunk.Error), IsError: true}, nil
		}
		b.WriteString(chunk.Text)
	}
	if b.Len() == 0 {
		return &agent.ToolResult{Content: "the model returned no description for this image", IsError: true}, nil
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

var _ agent.Tool = (*Tool)(nil)
