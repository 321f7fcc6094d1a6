package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/pkg/models"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat API.
//
// Differences from the Anthropic provider that matter here:
//   - the system prompt is the first message, not a separate field
//   - tool calls stream incrementally and are accumulated by index
//   - each tool result becomes its own message with role "tool"
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider creates a provider with defaults applied.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	var client *openai.Client
	if config.BaseURL != "" {
		cfg := openai.DefaultConfig(config.APIKey)
		cfg.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(cfg)
	} else {
		client = openai.NewClient(config.APIKey)
	}

	return &OpenAIProvider{
		client:       client,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Models returns the supported GPT models.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

// Complete streams a GPT response. Errors establishing the stream are
// returned directly; streaming errors arrive as chunks.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := p.convertMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !IsRetryable(lastErr) {
			return nil, NewProviderError(p.Name(), model, lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", NewProviderError(p.Name(), model, lastErr))
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream reads the OpenAI stream and emits chunks. Tool call
// fragments are accumulated by index until FinishReason reports them done.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.flushToolCalls(toolCalls, chunks)
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Error: NewProviderError(p.Name(), model, err), Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				args := string(toolCalls[index].Input) + tc.Function.Arguments
				toolCalls[index].Input = json.RawMessage(args)
			}
		}

		if choice.FinishReason == "tool_calls" {
			p.flushToolCalls(toolCalls, chunks)
			toolCalls = make(map[int]*models.ToolCall)
		}
	}
}

func (p *OpenAIProvider) flushToolCalls(toolCalls map[int]*models.ToolCall, chunks chan<- *agent.CompletionChunk) {
	for _, tc := range toolCalls {
		if tc.ID != "" && tc.Name != "" {
			chunks <- &agent.CompletionChunk{ToolCall: tc}
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			// One message per tool result, linked by call ID.
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Input),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, p.userMessage(msg))
		}
	}

	return result
}

// userMessage builds a user turn, switching to multi-content form when
// image attachments need to ride along.
func (p *OpenAIProvider) userMessage(msg agent.CompletionMessage) openai.ChatCompletionMessage {
	oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}

	hasImages := false
	for _, att := range msg.Attachments {
		if att.Type == "image" || strings.HasPrefix(att.MimeType, "image/") {
			hasImages = true
			break
		}
	}
	if !hasImages {
		oaiMsg.Content = msg.Content
		return oaiMsg
	}

	var parts []openai.ChatMessagePart
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, att := range msg.Attachments {
		if att.Type != "image" && !strings.HasPrefix(att.MimeType, "image/") {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.URL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	oaiMsg.MultiContent = parts
	return oaiMsg
}

func (p *OpenAIProvider) convertTools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			// A broken schema should not break function calling for the
			// rest of the tools.
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}

	return result
}
