// Package service consumes inbound chat messages and turns each into an
// agent session, enforcing one active session per chat and handling the
// /cancel command.
package service

import (
	"context"
	"strings"
	"sync"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/internal/channels"
	"github.com/loopwork/factotum/internal/observability"
	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

// AttachmentResolver turns channel-specific file references into fetchable
// URLs. The Telegram adapter implements it for photo file IDs.
type AttachmentResolver interface {
	DownloadURL(ctx context.Context, fileID string) (string, error)
}

// Config controls the service runner.
type Config struct {
	// HistoryDepth is how many transcript records to load per session.
	HistoryDepth int

	// DefaultPersona names the persona for sessions with none assigned.
	DefaultPersona string

	// StatusText is the initial progress message.
	StatusText string
}

// Service routes inbound messages to the orchestrator.
type Service struct {
	config       Config
	orchestrator *agent.Orchestrator
	listener     channels.Listener
	reporter     *status.Reporter
	transcripts  storage.TranscriptStore
	resolver     AttachmentResolver
	logger       *observability.Logger

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

// New creates a service runner. resolver may be nil when the channel has no
// file indirection.
func New(config Config, orchestrator *agent.Orchestrator, listener channels.Listener, reporter *status.Reporter, transcripts storage.TranscriptStore, resolver AttachmentResolver, logger *observability.Logger) *Service {
	if config.HistoryDepth <= 0 {
		config.HistoryDepth = 20
	}
	if config.StatusText == "" {
		config.StatusText = "Thinking..."
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{
		config:       config,
		orchestrator: orchestrator,
		listener:     listener,
		reporter:     reporter,
		transcripts:  transcripts,
		resolver:     resolver,
		logger:       logger.With("component", "service"),
		active:       make(map[string]bool),
	}
}

// Run consumes inbound messages until the context ends or the listener's
// channel closes, then waits for in-flight sessions.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case msg, ok := <-s.listener.Messages():
			if !ok {
				s.wg.Wait()
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg *channels.Inbound) {
	text := strings.TrimSpace(msg.Text)
	if text == "" && len(msg.Attachments) == 0 {
		return
	}

	if isCancelCommand(text) {
		s.orchestrator.Cancels().Request(msg.ChatID)
		s.logger.Info(ctx, "cancellation requested", "chat_id", msg.ChatID)
		return
	}

	s.mu.Lock()
	if s.active[msg.ChatID] {
		s.mu.Unlock()
		// One session per chat. A second query while one is running is
		// queued behind it by the user resending, not by us.
		s.logger.Warn(ctx, "session already active, dropping message", "chat_id", msg.ChatID)
		return
	}
	s.active[msg.ChatID] = true
	s.mu.Unlock()

	sess := agent.NewSession(msg.ChatID, msg.Sender, text, s.config.DefaultPersona)
	sess.Attachments = s.resolveAttachments(ctx, msg)

	if recent, err := s.transcripts.Recent(ctx, msg.ChatID, s.config.HistoryDepth); err == nil {
		sess.RecentHistory = recent
	} else {
		s.logger.Warn(ctx, "history load failed", "chat_id", msg.ChatID, "error", err)
	}

	if s.reporter != nil {
		sess.Status = s.reporter.Start(ctx, msg.ChatID, s.config.StatusText)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, msg.ChatID)
			s.mu.Unlock()
		}()
		s.orchestrator.Run(ctx, sess)
	}()
}

func (s *Service) resolveAttachments(ctx context.Context, msg *channels.Inbound) []models.Attachment {
	var out []models.Attachment
	for _, att := range msg.Attachments {
		resolved := models.Attachment{Type: att.Type, MimeType: att.MimeType, URL: att.URL}
		if s.resolver != nil && !strings.HasPrefix(att.URL, "http") && !strings.HasPrefix(att.URL, "data:") {
			url, err := s.resolver.DownloadURL(ctx, att.URL)
			if err != nil {
				s.logger.Warn(ctx, "attachment resolve failed", "chat_id", msg.ChatID, "error", err)
				continue
			}
			resolved.URL = url
		}
		out = append(out, resolved)
	}
	return out
}

func isCancelCommand(text string) bool {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd == "/cancel" || cmd == "/stop"
}
