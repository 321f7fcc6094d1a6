// Package delivery turns final response text into a paced sequence of chat
// messages. Long responses are split on natural boundaries, capped at a
// maximum number of chunks, and sent with increasing delays so the chat
// reads like a person typing rather than a firehose.
package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loopwork/factotum/internal/channels"
	"github.com/loopwork/factotum/internal/observability"
	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

// Config controls chunking and pacing.
type Config struct {
	// MaxChunkLength is the largest single message, in bytes.
	MaxChunkLength int

	// MaxChunks caps how many messages one response may produce. Anything
	// beyond the cap is dropped.
	MaxChunks int

	// BaseDelay is the pause before the second chunk; each later chunk
	// waits one BaseDelay more, up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay bounds the inter-chunk pause.
	MaxDelay time.Duration

	// BotName is recorded as the sender on persisted outbound messages.
	BotName string
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.MaxChunkLength <= 0 {
		c.MaxChunkLength = 4000
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 800 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 3 * time.Second
	}
	if c.BotName == "" {
		c.BotName = "factotum"
	}
	return nil
}

// Splitter delivers responses through a gateway, persisting each sent chunk.
type Splitter struct {
	config      Config
	gateway     channels.Gateway
	transcripts storage.TranscriptStore
	chunker     *channels.Chunker
	logger      *observability.Logger
	metrics     *observability.Metrics

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSplitter creates a delivery splitter.
func NewSplitter(config Config, gateway channels.Gateway, transcripts storage.TranscriptStore, logger *observability.Logger, metrics *observability.Metrics) *Splitter {
	_ = config.Validate()
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Splitter{
		config:      config,
		gateway:     gateway,
		transcripts: transcripts,
		chunker:     channels.NewChunker(config.MaxChunkLength),
		logger:      logger.With("component", "delivery"),
		metrics:     metrics,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver splits texts into chunks and sends them in order. The status
// handle is released before the first send so the progress message never
// sits above real output. Returns the number of messages that reached the
// chat. The first failed send abandons the formatted sequence; everything
// not yet delivered goes out as one plain-text message with markup
// stripped.
func (s *Splitter) Deliver(ctx context.Context, chatID string, texts []string, h *status.Handle) (int, error) {
	var chunks []string
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, s.chunker.Split(text)...)
	}
	if len(chunks) == 0 {
		if h != nil {
			h.Release(ctx)
		}
		return 0, nil
	}

	if len(chunks) > s.config.MaxChunks {
		dropped := len(chunks) - s.config.MaxChunks
		s.logger.Warn(ctx, "response truncated", "chat_id", chatID, "dropped_chunks", dropped)
		if s.metrics != nil {
			s.metrics.ChunksDelivered.WithLabelValues("dropped").Add(float64(dropped))
		}
		chunks = chunks[:s.config.MaxChunks]
	}

	if h != nil {
		h.Release(ctx)
	}

	sent := 0
	for i, chunk := range chunks {
		if i > 0 {
			delay := s.config.BaseDelay * time.Duration(i)
			if delay > s.config.MaxDelay {
				delay = s.config.MaxDelay
			}
			if err := s.sleep(ctx, delay); err != nil {
				return sent, err
			}
		}

		ref, err := s.gateway.Send(ctx, chatID, chunk)
		if err != nil {
			// Stop the paced sequence here. The remainder goes out as
			// one plain-text message instead.
			s.logger.Warn(ctx, "chunk send failed", "chat_id", chatID, "chunk", i, "error", err)
			if s.metrics != nil {
				s.metrics.ChunksDelivered.WithLabelValues("error").Inc()
			}
			n, ferr := s.fallback(ctx, chatID, chunks[i:], err)
			return sent + n, ferr
		}
		sent++
		if s.metrics != nil {
			s.metrics.ChunksDelivered.WithLabelValues("ok").Inc()
		}
		s.persist(ctx, chatID, chunk, ref)
	}
	return sent, nil
}

// fallback sends the undelivered remainder as a single markup-stripped
// message.
func (s *Splitter) fallback(ctx context.Context, chatID string, chunks []string, cause error) (int, error) {
	plain := stripMarkup(strings.Join(chunks, "\n\n"))
	if len(plain) > s.config.MaxChunkLength {
		plain = plain[:s.config.MaxChunkLength]
	}
	ref, err := s.gateway.Send(ctx, chatID, plain)
	if err != nil {
		return 0, fmt.Errorf("delivery failed: %w (fallback: %v)", cause, err)
	}
	s.logger.Info(ctx, "delivered via plain-text fallback", "chat_id", chatID)
	if s.metrics != nil {
		s.metrics.ChunksDelivered.WithLabelValues("fallback").Inc()
	}
	s.persist(ctx, chatID, plain, ref)
	return 1, nil
}

// persist records an outbound chunk. Storage failures never block delivery.
func (s *Splitter) persist(ctx context.Context, chatID, text string, ref channels.MessageRef) {
	if s.transcripts == nil {
		return
	}
	err := s.transcripts.Append(ctx, chatID, &models.TranscriptRecord{
		IsFromBot:         true,
		Sender:            s.config.BotName,
		Text:              text,
		ExternalMessageID: ref.MessageID,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn(ctx, "transcript append failed", "chat_id", chatID, "error", err)
	}
}

var (
	markupBold   = regexp.MustCompile(`[*_~]{1,2}([^*_~]+)[*_~]{1,2}`)
	markupCode   = regexp.MustCompile("`{1,3}([^`]*)`{1,3}")
	markupLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	markupHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
)

// stripMarkup reduces markdown to plain text for the fallback path.
func stripMarkup(text string) string {
	text = markupLink.ReplaceAllString(text, "$1")
	text = markupCode.ReplaceAllString(text, "$1")
	text = markupBold.ReplaceAllString(text, "$1")
	text = markupHeader.ReplaceAllString(text, "")
	return text
}
