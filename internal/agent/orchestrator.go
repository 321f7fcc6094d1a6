// Package agent runs the reasoning loop for conversational sessions: it
// alternates LLM calls with tool executions until the model produces a
// final response, a tool delivers output directly, or a budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loopwork/factotum/internal/observability"
	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

// Notice texts shown when a session ends without a proper response.
const (
	noticeIncomplete = "I could not complete this request in time. Try narrowing it down or asking again."
	noticeCancelled  = "Okay, stopped."
	noticeFailed     = "Something went wrong while working on this. Please try again."
)

// Deliverer sends final response text to the chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID string, texts []string, h *status.Handle) (int, error)
}

// Config controls the orchestrator's budgets and prompting.
type Config struct {
	// MaxLoops caps reasoning iterations per session.
	MaxLoops int

	// ReasonTimeout bounds a single reasoning call.
	ReasonTimeout time.Duration

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration

	// HistoryDepth is how many transcript records seed the conversation.
	HistoryDepth int

	// DefaultModel overrides the provider default when set.
	DefaultModel string

	// Personas maps persona IDs to system prompts.
	Personas map[string]string

	// DefaultPersona is used when the session names no persona.
	DefaultPersona string
}

func (c *Config) defaults() {
	if c.MaxLoops <= 0 {
		c.MaxLoops = 8
	}
	if c.ReasonTimeout <= 0 {
		c.ReasonTimeout = 90 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 60 * time.Second
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 20
	}
}

// Orchestrator drives sessions to completion.
type Orchestrator struct {
	config      Config
	provider    LLMProvider
	registry    *Registry
	cancels     *CancelRegistry
	deliverer   Deliverer
	transcripts storage.TranscriptStore
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewOrchestrator wires an orchestrator. provider and registry are
// required; deliverer, transcripts, and metrics may be nil in tests.
func NewOrchestrator(config Config, provider LLMProvider, registry *Registry, cancels *CancelRegistry, deliverer Deliverer, transcripts storage.TranscriptStore, logger *observability.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	config.defaults()
	return &Orchestrator{
		config:      config,
		provider:    provider,
		registry:    registry,
		cancels:     cancels,
		deliverer:   deliverer,
		transcripts: transcripts,
		logger:      logger.With("component", "orchestrator"),
		metrics:     metrics,
	}, nil
}

// Cancels exposes the cancellation registry for the inbound dispatcher.
func (o *Orchestrator) Cancels() *CancelRegistry {
	return o.cancels
}

// Run executes the session until a terminal outcome. The inbound query is
// persisted regardless of how the session ends.
func (o *Orchestrator) Run(ctx context.Context, sess *Session) Outcome {
	ctx = observability.WithSessionID(ctx, sess.ID)
	ctx = WithChatID(ctx, sess.ChatID)
	log := o.logger.With("chat_id", sess.ChatID)
	log.Info(ctx, "session started", "query_len", len(sess.Query))

	o.persistQuery(ctx, sess)
	o.seedConversation(sess)

	outcome := o.loop(ctx, sess, log)
	sess.Outcome = outcome

	o.finish(ctx, sess, outcome, log)

	if o.metrics != nil {
		o.metrics.SessionOutcomes.WithLabelValues(outcome.String()).Inc()
		o.metrics.LoopIterations.Observe(float64(sess.LoopCount))
	}
	log.Info(ctx, "session finished", "outcome", outcome.String(), "loops", sess.LoopCount)
	return outcome
}

func (o *Orchestrator) loop(ctx context.Context, sess *Session, log *observability.Logger) Outcome {
	for {
		if o.cancels.Consume(sess.ChatID) {
			return Outcome{Kind: OutcomeCancelled}
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeCancelled}
		}
		if sess.LoopCount >= o.config.MaxLoops {
			return Outcome{Kind: OutcomeTimedOut, Reason: "reasoning budget exhausted"}
		}
		sess.LoopCount++

		text, call, err := o.reason(ctx, sess)
		if err != nil {
			// A failed reasoning call is fatal. Retrying inside the
			// session would double-spend the loop budget on a backend
			// that is already struggling.
			log.Error(ctx, "reasoning failed", "loop", sess.LoopCount, "error", err)
			return Outcome{Kind: OutcomeFailed, Reason: "reasoning failed", Err: err}
		}

		if call == nil {
			if strings.TrimSpace(text) == "" {
				// A turn with neither text nor a tool call violates the
				// provider protocol.
				log.Error(ctx, "empty reasoning response", "loop", sess.LoopCount)
				return Outcome{
					Kind:   OutcomeFailed,
					Reason: "empty reasoning response",
					Err:    ErrEmptyResponse,
				}
			}
			return Outcome{Kind: OutcomeFinalContent, Text: text}
		}

		reg, ok := o.registry.Lookup(call.Name)
		if !ok {
			log.Error(ctx, "unknown tool requested", "tool", call.Name)
			return Outcome{
				Kind:   OutcomeFailed,
				Reason: fmt.Sprintf("unknown tool %q", call.Name),
				Err:    fmt.Errorf("%w: %s", ErrToolNotFound, call.Name),
			}
		}
		if reg.Quota > 0 && sess.ToolUsage[call.Name] >= reg.Quota {
			// The budget for this tool is spent. Going back to the
			// model would just produce the same request again.
			log.Warn(ctx, "tool quota exhausted", "tool", call.Name, "quota", reg.Quota)
			return Outcome{
				Kind:   OutcomeTimedOut,
				Reason: fmt.Sprintf("quota for %s exhausted", call.Name),
			}
		}

		o.updateStatus(ctx, sess, reg.Tool, call.Input)

		result := o.executeTool(ctx, sess, call, log)
		sess.ToolUsage[call.Name]++

		if reg.Terminal && result.Delivered && !result.IsError {
			return Outcome{Kind: OutcomeMessagesDelivered}
		}

		sess.Push(CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: []models.ToolCall{*call},
		})
		sess.Push(CompletionMessage{
			Role: "tool",
			ToolResults: []ToolResultMessage{{
				ToolCallID: call.ID,
				Content:    result.Content,
				IsError:    result.IsError,
			}},
		})
	}
}

// reason makes one LLM call and collapses the stream into the produced
// text and the first tool call, if any.
func (o *Orchestrator) reason(ctx context.Context, sess *Session) (string, *models.ToolCall, error) {
	rctx, cancel := context.WithTimeout(ctx, o.config.ReasonTimeout)
	defer cancel()

	req := &CompletionRequest{
		Model:    o.config.DefaultModel,
		System:   o.systemPrompt(sess),
		Messages: sess.Conversation(),
	}
	if o.provider.SupportsTools() {
		req.Tools = o.registry.Tools()
	}

	start := time.Now()
	chunks, err := o.provider.Complete(rctx, req)
	if err != nil {
		o.observeReasoning(start, "error")
		return "", nil, err
	}

	var text string
	var call *models.ToolCall
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				o.observeReasoning(start, "ok")
				return text, call, nil
			}
			switch {
			case chunk.Error != nil:
				o.observeReasoning(start, "error")
				return "", nil, chunk.Error
			case chunk.ToolCall != nil:
				// Only the first tool call of a turn is honored.
				if call == nil {
					call = chunk.ToolCall
				}
			case chunk.Text != "":
				text += chunk.Text
			case chunk.Done:
				o.observeReasoning(start, "ok")
				return text, call, nil
			}
		case <-rctx.Done():
			o.observeReasoning(start, "timeout")
			// The producer sends on an unbuffered channel. Keep receiving
			// in the background until it notices the cancelled context and
			// closes, or its goroutine would block forever.
			go func() {
				for range chunks {
				}
			}()
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				return "", nil, ErrReasonTimeout
			}
			return "", nil, rctx.Err()
		}
	}
}

// executeTool runs a tool under its timeout. All failure modes come back
// as error-shaped results so the model can recover in the next turn.
func (o *Orchestrator) executeTool(ctx context.Context, sess *Session, call *models.ToolCall, log *observability.Logger) *ToolResult {
	tctx, cancel := context.WithTimeout(ctx, o.config.ToolTimeout)
	defer cancel()

	start := time.Now()
	type res struct {
		result *ToolResult
		err    error
	}
	done := make(chan res, 1)
	go func() {
		result, err := o.registry.Execute(tctx, call.Name, call.Input)
		done <- res{result, err}
	}()

	var result *ToolResult
	select {
	case r := <-done:
		if r.err != nil {
			log.Warn(ctx, "tool execution failed", "tool", call.Name, "error", r.err)
			result = &ToolResult{Content: fmt.Sprintf("tool failed: %v", r.err), IsError: true}
		} else {
			result = r.result
		}
	case <-tctx.Done():
		log.Warn(ctx, "tool execution timed out", "tool", call.Name)
		result = &ToolResult{
			Content: fmt.Sprintf("tool %s timed out after %s", call.Name, o.config.ToolTimeout),
			IsError: true,
		}
	}

	if o.metrics != nil {
		statusLabel := "ok"
		if result.IsError {
			statusLabel = "error"
		}
		o.metrics.ToolExecutions.WithLabelValues(call.Name, statusLabel).Inc()
		o.metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	return result
}

// finish completes the outward side of the outcome: final content goes
// through the deliverer, everything else turns the status message into a
// short notice that is also persisted.
func (o *Orchestrator) finish(ctx context.Context, sess *Session, outcome Outcome, log *observability.Logger) {
	// Use a fresh context so a cancelled session can still say goodbye.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	switch outcome.Kind {
	case OutcomeFinalContent:
		if o.deliverer == nil {
			if sess.Status != nil {
				sess.Status.Release(ctx)
			}
			return
		}
		if _, err := o.deliverer.Deliver(ctx, sess.ChatID, []string{outcome.Text}, sess.Status); err != nil {
			log.Error(ctx, "delivery failed", "error", err)
		}
	case OutcomeMessagesDelivered:
		if sess.Status != nil {
			sess.Status.Release(ctx)
		}
	case OutcomeTimedOut:
		o.notice(ctx, sess, noticeIncomplete, log)
	case OutcomeCancelled:
		o.notice(ctx, sess, noticeCancelled, log)
	case OutcomeFailed:
		o.notice(ctx, sess, noticeFailed, log)
	}
}

// notice replaces the status message with text and records it in the
// transcript so later sessions see that this one ended abnormally.
func (o *Orchestrator) notice(ctx context.Context, sess *Session, text string, log *observability.Logger) {
	if sess.Status != nil {
		sess.Status.Finalize(ctx, text)
	}
	if o.transcripts == nil {
		return
	}
	err := o.transcripts.Append(ctx, sess.ChatID, &models.TranscriptRecord{
		IsFromBot: true,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Warn(ctx, "notice persist failed", "error", err)
	}
}

func (o *Orchestrator) persistQuery(ctx context.Context, sess *Session) {
	if o.transcripts == nil {
		return
	}
	err := o.transcripts.Append(ctx, sess.ChatID, &models.TranscriptRecord{
		Sender:    sess.Sender,
		Text:      sess.Query,
		Timestamp: sess.StartedAt,
	})
	if err != nil {
		o.logger.Warn(ctx, "query persist failed", "chat_id", sess.ChatID, "error", err)
	}
}

// seedConversation builds the initial turns from recent transcript history
// plus the current query.
func (o *Orchestrator) seedConversation(sess *Session) {
	if len(sess.Conversation()) > 0 {
		return
	}
	history := sess.RecentHistory
	if len(history) > o.config.HistoryDepth {
		history = history[len(history)-o.config.HistoryDepth:]
	}
	for _, rec := range history {
		if rec.Text == "" || rec.Text == sess.Query {
			continue
		}
		role := "user"
		if rec.IsFromBot {
			role = "assistant"
		}
		sess.Push(CompletionMessage{Role: role, Content: rec.Text})
	}
	sess.Push(CompletionMessage{
		Role:        "user",
		Content:     sess.Query,
		Attachments: sess.Attachments,
	})
}

func (o *Orchestrator) systemPrompt(sess *Session) string {
	if p, ok := o.config.Personas[sess.PersonaID]; ok && p != "" {
		return p
	}
	if p, ok := o.config.Personas[o.config.DefaultPersona]; ok && p != "" {
		return p
	}
	return "You are a capable assistant working inside a chat. Keep answers concise and use the available tools when they help."
}

func (o *Orchestrator) updateStatus(ctx context.Context, sess *Session, tool Tool, params json.RawMessage) {
	if sess.Status == nil {
		return
	}
	text := fmt.Sprintf("Working: %s...", tool.Name())
	if d, ok := tool.(Describer); ok {
		if desc := d.Describe(params); desc != "" {
			text = desc
		}
	}
	sess.Status.Update(ctx, text)
}

func (o *Orchestrator) observeReasoning(start time.Time, statusLabel string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ReasoningCalls.WithLabelValues(o.provider.Name(), statusLabel).Inc()
	o.metrics.ReasoningDuration.WithLabelValues(o.provider.Name(), o.config.DefaultModel).Observe(time.Since(start).Seconds())
}
