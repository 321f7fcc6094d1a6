// Package voice implements a text-to-speech tool. It synthesizes audio via
// OpenAI's TTS endpoint and sends the result straight to the chat as a
// voice message, so the session ends without composing a text response.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/internal/channels"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

const maxSpeechChars = 4096

// Config holds TTS settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// Tool synthesizes speech and delivers it as a voice message.
type Tool struct {
	config      Config
	sender      channels.VoiceSender
	transcripts storage.TranscriptStore
	httpClient  *http.Client
}

// New creates the voice tool with defaults applied.
func New(config Config, sender channels.VoiceSender, transcripts storage.TranscriptStore) *Tool {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "tts-1"
	}
	if config.Voice == "" {
		config.Voice = "alloy"
	}
	return &Tool{
		config:      config,
		sender:      sender,
		transcripts: transcripts,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *Tool) Name() string {
	return "speak"
}

func (t *Tool) Description() string {
	return "Convert text to speech and send it to the chat as a voice message. Use when the user asks to hear something spoken aloud. The voice message IS the reply; do not repeat the text afterwards."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {
				"type": "string",
				"description": "The text to speak, at most a few sentences"
			}
		},
		"required": ["text"]
	}`)
}

func (t *Tool) Describe(json.RawMessage) string {
	return "Recording a voice message..."
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Text == "" {
		return &agent.ToolResult{Content: "text parameter is required", IsError: true}, nil
	}
	if len(p.Text) > maxSpeechChars {
		p.Text = p.Text[:maxSpeechChars]
	}

	chatID, ok := agent.ChatIDFromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: "no chat bound to this session", IsError: true}, nil
	}

	audio, err := t.synthesize(ctx, p.Text)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("speech synthesis failed: %v", err), IsError: true}, nil
	}

	ref, err := t.sender.SendVoice(ctx, chatID, "voice.ogg", audio)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("sending voice message failed: %v", err), IsError: true}, nil
	}

	if t.transcripts != nil {
		// Best-effort; the voice message is already out.
		_ = t.transcripts.Append(ctx, chatID, &models.TranscriptRecord{
			IsFromBot:         true,
			Text:              "[voice] " + p.Text,
			ExternalMessageID: ref.MessageID,
			Timestamp:         time.Now().UTC(),
		})
	}

	return &agent.ToolResult{
		Content:   "voice message delivered",
		Delivered: true,
	}, nil
}

// synthesize calls the OpenAI speech endpoint and returns opus audio,
// which is what chat voice notes expect.
func (t *Tool) synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":           t.config.Model,
		"input":           text,
		"voice":           t.config.Voice,
		"response_format": "opus",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("speech API returned %s: %s", resp.Status, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech API returned empty audio")
	}
	return audio, nil
}

var _ agent.Tool = (*Tool)(nil)
