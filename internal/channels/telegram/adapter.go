// Package telegram implements the channels.Gateway and channels.Listener
// contracts on top of the Telegram Bot API via long polling.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/loopwork/factotum/internal/channels"
	"github.com/loopwork/factotum/internal/observability"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// RateLimit is the number of API operations per second.
	RateLimit float64

	// RateBurst is the burst capacity for rate limiting.
	RateBurst int

	// Logger is the structured logger; defaults to a no-op logger.
	Logger *observability.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if c.RateLimit == 0 {
		c.RateLimit = 25 // Telegram throttles around 30 msg/s
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.Logger == nil {
		c.Logger = observability.NewNopLogger()
	}
	return nil
}

// Adapter connects the orchestrator to Telegram. It exposes the narrow
// send/edit/delete gateway surface plus an inbound message stream.
type Adapter struct {
	config   Config
	bot      *bot.Bot
	messages chan *channels.Inbound
	limiter  *channels.RateLimiter
	logger   *observability.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Telegram adapter with the given configuration.
func New(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		messages: make(chan *channels.Inbound, 100),
		limiter:  channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		logger:   config.Logger.With("adapter", "telegram"),
	}, nil
}

// Start connects to Telegram and begins long polling until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	b, err := bot.New(a.config.Token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	a.bot.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleUpdate)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.messages)
		a.logger.Info(ctx, "telegram adapter started")
		a.bot.Start(ctx)
		a.logger.Info(ctx, "telegram adapter stopped")
	}()

	return nil
}

// Stop shuts the adapter down and waits for the polling loop to exit.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the inbound user message stream.
func (a *Adapter) Messages() <-chan *channels.Inbound {
	return a.messages
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message

	sender := ""
	if msg.From != nil {
		sender = msg.From.Username
		if sender == "" {
			sender = msg.From.FirstName
		}
	}

	inbound := &channels.Inbound{
		ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		Sender: sender,
		Text:   msg.Text,
	}
	for _, photo := range msg.Photo {
		// Largest size is last; keep only that one.
		if photo.FileID != "" {
			inbound.Attachments = []channels.InboundAttachment{{
				Type: "image",
				URL:  photo.FileID,
			}}
		}
	}

	select {
	case a.messages <- inbound:
	case <-ctx.Done():
	default:
		a.logger.Warn(ctx, "inbound queue full, dropping message", "chat_id", msg.Chat.ID)
	}
}

// Send posts a text message.
func (a *Adapter) Send(ctx context.Context, chatID, text string) (channels.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.MessageRef{}, err
	}
	if a.bot == nil {
		return channels.MessageRef{}, errors.New("telegram: bot not started")
	}

	sent, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return channels.MessageRef{}, fmt.Errorf("telegram: send: %w", err)
	}
	return channels.MessageRef{
		ChatID:    chatID,
		MessageID: strconv.Itoa(sent.ID),
	}, nil
}

// Edit replaces the text of an existing message in place.
func (a *Adapter) Edit(ctx context.Context, ref channels.MessageRef, text string) (channels.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return ref, err
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return ref, fmt.Errorf("telegram: bad message ref %q: %w", ref.MessageID, err)
	}

	_, err = a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    ref.ChatID,
		MessageID: msgID,
		Text:      text,
	})
	if err != nil {
		return ref, fmt.Errorf("telegram: edit: %w", err)
	}
	return ref, nil
}

// Delete removes a message. Telegram returns an error when the message is
// already gone; callers treat that as best-effort.
func (a *Adapter) Delete(ctx context.Context, ref channels.MessageRef) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: bad message ref %q: %w", ref.MessageID, err)
	}

	_, err = a.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    ref.ChatID,
		MessageID: msgID,
	})
	if err != nil {
		return fmt.Errorf("telegram: delete: %w", err)
	}
	return nil
}

// SendVoice posts an audio payload as a Telegram voice message.
func (a *Adapter) SendVoice(ctx context.Context, chatID, filename string, audio []byte) (channels.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return channels.MessageRef{}, err
	}
	if a.bot == nil {
		return channels.MessageRef{}, errors.New("telegram: bot not started")
	}

	sent, err := a.bot.SendVoice(ctx, &bot.SendVoiceParams{
		ChatID: chatID,
		Voice: &tgmodels.InputFileUpload{
			Filename: filename,
			Data:     bytes.NewReader(audio),
		},
	})
	if err != nil {
		return channels.MessageRef{}, fmt.Errorf("telegram: send voice: %w", err)
	}
	return channels.MessageRef{
		ChatID:    chatID,
		MessageID: strconv.Itoa(sent.ID),
	}, nil
}

// interface checks
var (
	_ channels.Gateway     = (*Adapter)(nil)
	_ channels.VoiceSender = (*Adapter)(nil)
	_ channels.Listener    = (*Adapter)(nil)
)

// DownloadURL resolves a Telegram file ID to a fetchable URL.
func (a *Adapter) DownloadURL(ctx context.Context, fileID string) (string, error) {
	if a.bot == nil {
		return "", errors.New("telegram: bot not started")
	}
	f, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("telegram: get file: %w", err)
	}
	return a.bot.FileDownloadLink(f), nil
}

// RetryAfter extracts the retry_after hint Telegram embeds in 429 errors.
func RetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	idx := strings.Index(msg, "retry_after")
	if idx < 0 {
		return 0, false
	}
	rest := msg[idx+len("retry_after"):]
	start := -1
	for i, r := range rest {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
		if r != ' ' && r != ':' && r != '=' && r != '"' {
			return 0, false
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	secs, err := strconv.Atoi(rest[start:end])
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
