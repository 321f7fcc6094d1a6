// Package providers implements agent.LLMProvider for the LLM backends the
// orchestrator can reason with. Each provider converts between the internal
// message format and its API, streams tokens as they arrive, and retries
// transient failures with exponential backoff.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/pkg/models"
)

const defaultMaxTokens = 4096

// AnthropicProvider implements agent.LLMProvider for the Anthropic API.
// Safe for concurrent use; each Complete call runs its own stream.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider creates a provider with defaults applied.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Models returns the supported Claude models.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete streams a Claude response. The returned channel closes when the
// stream finishes; errors arrive as chunks with Error set.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			wrapped := p.wrapError(err, p.model(req.Model))
			if !IsRetryable(wrapped) {
				chunks <- &agent.CompletionChunk{Error: wrapped}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &agent.CompletionChunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, p.model(req.Model)))}
			return
		}

		p.processStream(stream, chunks, p.model(req.Model))
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents caps the consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// processStream translates Anthropic SSE events into CompletionChunks.
// Tool calls span several events: a content_block_start names the tool,
// input_json_delta events stream the arguments, and content_block_stop
// completes the call.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &agent.CompletionChunk{
					Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEventCount), model),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

// convertMessages maps internal turns to Anthropic content blocks. Tool and
// user roles both become user messages; system turns are carried separately.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, att := range msg.Attachments {
			if block, ok := imageBlock(att); ok {
				content = append(content, block)
			}
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func imageBlock(att models.Attachment) (anthropic.ContentBlockParamUnion, bool) {
	if att.Type != "image" && !strings.HasPrefix(att.MimeType, "image/") {
		return anthropic.ContentBlockParamUnion{}, false
	}
	if mediaType, data, ok := parseDataURL(att.URL); ok {
		return anthropic.NewImageBlockBase64(mediaType, data), true
	}
	if att.URL != "" {
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: att.URL},
				},
			},
		}, true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func parseDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, parts[1], true
}

func (p *AnthropicProvider) convertTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultMaxTokens
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError(p.Name(), model, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError(p.Name(), model, err)
}
