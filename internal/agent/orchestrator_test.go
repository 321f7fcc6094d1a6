package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

// fakeProvider replays a script of responses, one per Complete call.
type fakeProvider struct {
	mu      sync.Mutex
	script  [][]*CompletionChunk
	err     error
	hang    bool
	calls   int
	lastReq *CompletionRequest
}

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	if p.hang {
		return make(chan *CompletionChunk), nil
	}
	if len(p.script) == 0 {
		return nil, errors.New("fakeProvider: script exhausted")
	}
	chunks := p.script[0]
	p.script = p.script[1:]

	out := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *fakeProvider) Name() string        { return "fake" }
func (p *fakeProvider) Models() []Model     { return nil }
func (p *fakeProvider) SupportsTools() bool { return true }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textTurn(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text}, {Done: true}}
}

func toolTurn(id, name, input string) []*CompletionChunk {
	return []*CompletionChunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}},
		{Done: true},
	}
}

// fakeTool records executions and returns a canned result.
type fakeTool struct {
	name      string
	result    *ToolResult
	err       error
	delay     time.Duration
	mu        sync.Mutex
	execCount int
	lastInput json.RawMessage
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "a test tool" }
func (t *fakeTool) Schema() json.RawMessage { return nil }

func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	t.mu.Lock()
	t.execCount++
	t.lastInput = params
	t.mu.Unlock()
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.result != nil {
		return t.result, nil
	}
	return &ToolResult{Content: "ok"}, nil
}

func (t *fakeTool) executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.execCount
}

// captureDeliverer records delivered texts.
type captureDeliverer struct {
	mu    sync.Mutex
	texts []string
}

func (d *captureDeliverer) Deliver(ctx context.Context, chatID string, texts []string, h *status.Handle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, texts...)
	return len(texts), nil
}

func (d *captureDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

func newOrchestrator(t *testing.T, config Config, provider LLMProvider, registry *Registry, deliverer Deliverer, transcripts storage.TranscriptStore) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(config, provider, registry, nil, deliverer, transcripts, nil, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestNewOrchestratorRequiresProvider(t *testing.T) {
	if _, err := NewOrchestrator(Config{}, nil, nil, nil, nil, nil, nil, nil); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestRunFinalContent(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{textTurn("the answer is 4")}}
	deliverer := &captureDeliverer{}
	store := storage.NewMemoryStore(0)
	o := newOrchestrator(t, Config{}, provider, nil, deliverer, store)

	sess := NewSession("chat-1", "alice", "what is 2+2", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFinalContent {
		t.Fatalf("outcome = %v, want final content", outcome.Kind)
	}
	if outcome.Text != "the answer is 4" {
		t.Errorf("text = %q", outcome.Text)
	}
	if got := deliverer.delivered(); len(got) != 1 || got[0] != "the answer is 4" {
		t.Errorf("delivered = %v", got)
	}

	recs, err := store.Recent(context.Background(), "chat-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "what is 2+2" || recs[0].IsFromBot {
		t.Errorf("persisted query records = %+v", recs)
	}
}

func TestRunToolThenFinal(t *testing.T) {
	tool := &fakeTool{name: "lookup", result: &ToolResult{Content: "42 items"}}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("call-1", "lookup", `{"q":"items"}`),
		textTurn("there are 42 items"),
	}}
	deliverer := &captureDeliverer{}
	o := newOrchestrator(t, Config{}, provider, registry, deliverer, nil)

	sess := NewSession("chat-1", "alice", "how many items?", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFinalContent {
		t.Fatalf("outcome = %v (%s), want final content", outcome.Kind, outcome.Reason)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.executions())
	}
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}

	// The tool exchange must appear in the conversation for the second call.
	conv := sess.Conversation()
	var sawResult bool
	for _, msg := range conv {
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == "call-1" && tr.Content == "42 items" && !tr.IsError {
				sawResult = true
			}
		}
	}
	if !sawResult {
		t.Errorf("tool result missing from conversation: %+v", conv)
	}
}

func TestRunLoopBudgetExhausted(t *testing.T) {
	tool := &fakeTool{name: "lookup"}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "lookup", `{}`),
		toolTurn("c2", "lookup", `{}`),
		toolTurn("c3", "lookup", `{}`),
	}}
	deliverer := &captureDeliverer{}
	store := storage.NewMemoryStore(0)
	o := newOrchestrator(t, Config{MaxLoops: 3}, provider, registry, deliverer, store)

	sess := NewSession("chat-1", "alice", "keep looking", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeTimedOut {
		t.Fatalf("outcome = %v, want timed out", outcome.Kind)
	}
	if provider.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", provider.callCount())
	}
	if len(deliverer.delivered()) != 0 {
		t.Errorf("nothing should be delivered, got %v", deliverer.delivered())
	}

	// The incomplete notice lands in the transcript after the query.
	recs, _ := store.Recent(context.Background(), "chat-1", 10)
	if len(recs) != 2 || !recs[1].IsFromBot || !strings.Contains(recs[1].Text, "could not complete") {
		t.Errorf("transcript = %+v", recs)
	}
}

func TestRunQuotaStopsWithoutReasoning(t *testing.T) {
	tool := &fakeTool{name: "search"}
	registry := NewRegistry()
	if err := registry.Register(tool, WithQuota(1)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "search", `{}`),
		toolTurn("c2", "search", `{}`),
		textTurn("never reached"),
	}}
	o := newOrchestrator(t, Config{}, provider, registry, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "search twice", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeTimedOut {
		t.Fatalf("outcome = %v, want timed out", outcome.Kind)
	}
	if !strings.Contains(outcome.Reason, "search") {
		t.Errorf("reason = %q", outcome.Reason)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.executions())
	}
	// The second tool request hits the quota and the loop breaks without
	// another reasoning call.
	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
}

func TestRunCancelledBeforeFirstIteration(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{textTurn("unused")}}
	o := newOrchestrator(t, Config{}, provider, nil, &captureDeliverer{}, nil)

	o.Cancels().Request("chat-1")
	sess := NewSession("chat-1", "alice", "never mind", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("outcome = %v, want cancelled", outcome.Kind)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", provider.callCount())
	}
}

func TestRunReasoningErrorIsFatal(t *testing.T) {
	boom := errors.New("backend down")
	provider := &fakeProvider{err: boom}
	store := storage.NewMemoryStore(0)
	o := newOrchestrator(t, Config{}, provider, nil, &captureDeliverer{}, store)

	sess := NewSession("chat-1", "alice", "hello", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, boom) {
		t.Errorf("err = %v, want wrapped %v", outcome.Err, boom)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1 (no retry)", provider.callCount())
	}

	// The query is persisted even though the session failed.
	recs, _ := store.Recent(context.Background(), "chat-1", 10)
	if len(recs) == 0 || recs[0].Text != "hello" {
		t.Errorf("transcript = %+v", recs)
	}
}

func TestRunReasoningTimeout(t *testing.T) {
	provider := &fakeProvider{hang: true}
	o := newOrchestrator(t, Config{ReasonTimeout: 30 * time.Millisecond}, provider, nil, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "hello", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrReasonTimeout) {
		t.Errorf("err = %v, want ErrReasonTimeout", outcome.Err)
	}
}

func TestRunEmptyResponseIsFatal(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{
		{{Done: true}},
	}}
	deliverer := &captureDeliverer{}
	store := storage.NewMemoryStore(0)
	o := newOrchestrator(t, Config{}, provider, nil, deliverer, store)

	sess := NewSession("chat-1", "alice", "hello", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed on a turn with no text and no tool call", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", outcome.Err)
	}
	if len(deliverer.delivered()) != 0 {
		t.Errorf("nothing should be delivered, got %v", deliverer.delivered())
	}

	// The user still hears about it through the failure notice.
	recs, _ := store.Recent(context.Background(), "chat-1", 10)
	if len(recs) != 2 || !recs[1].IsFromBot || !strings.Contains(recs[1].Text, "went wrong") {
		t.Errorf("transcript = %+v", recs)
	}
}

func TestRunWhitespaceResponseIsFatal(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{textTurn("  \n\t ")}}
	o := newOrchestrator(t, Config{}, provider, nil, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "hello", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", outcome.Err)
	}
}

func TestRunUnknownToolIsFatal(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "no_such_tool", `{}`),
	}}
	o := newOrchestrator(t, Config{}, provider, NewRegistry(), &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "use a tool", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", outcome.Kind)
	}
	if !errors.Is(outcome.Err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", outcome.Err)
	}
}

func TestRunToolErrorRecovers(t *testing.T) {
	tool := &fakeTool{name: "flaky", err: errors.New("connection refused")}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "flaky", `{}`),
		textTurn("sorry, the lookup failed"),
	}}
	o := newOrchestrator(t, Config{}, provider, registry, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "try it", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFinalContent {
		t.Fatalf("outcome = %v, want final content after recovery", outcome.Kind)
	}

	var sawError bool
	for _, msg := range sess.Conversation() {
		for _, tr := range msg.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "connection refused") {
				sawError = true
			}
		}
	}
	if !sawError {
		t.Errorf("error result not fed back to the model: %+v", sess.Conversation())
	}
}

func TestRunToolTimeoutRecovers(t *testing.T) {
	tool := &fakeTool{name: "slow", delay: time.Second}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "slow", `{}`),
		textTurn("that took too long"),
	}}
	o := newOrchestrator(t, Config{ToolTimeout: 20 * time.Millisecond}, provider, registry, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "be quick", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFinalContent {
		t.Fatalf("outcome = %v, want final content after timeout recovery", outcome.Kind)
	}
}

// lateProvider sends on an unbuffered channel after the reasoning deadline
// has passed, like a real streaming producer that has not yet noticed the
// cancelled context.
type lateProvider struct {
	finished chan struct{}
}

func (p *lateProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	out := make(chan *CompletionChunk)
	go func() {
		defer close(p.finished)
		defer close(out)
		time.Sleep(60 * time.Millisecond)
		out <- &CompletionChunk{Text: "too late"}
		out <- &CompletionChunk{Done: true}
	}()
	return out, nil
}

func (p *lateProvider) Name() string        { return "late" }
func (p *lateProvider) Models() []Model     { return nil }
func (p *lateProvider) SupportsTools() bool { return false }

func TestRunReasoningTimeoutDrainsProducer(t *testing.T) {
	provider := &lateProvider{finished: make(chan struct{})}
	o := newOrchestrator(t, Config{ReasonTimeout: 10 * time.Millisecond}, provider, nil, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "hello", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFailed || !errors.Is(outcome.Err, ErrReasonTimeout) {
		t.Fatalf("outcome = %v (%v), want reasoning timeout", outcome.Kind, outcome.Err)
	}

	// The producer's sends must still find a receiver so its goroutine can
	// run to completion after the call was abandoned.
	select {
	case <-provider.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("producer goroutine still blocked after timeout")
	}
}

func TestRunTerminalToolDelivers(t *testing.T) {
	tool := &fakeTool{name: "speak", result: &ToolResult{Content: "voice message delivered", Delivered: true}}
	registry := NewRegistry()
	if err := registry.Register(tool, AsTerminal()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "speak", `{"text":"hi"}`),
	}}
	deliverer := &captureDeliverer{}
	o := newOrchestrator(t, Config{}, provider, registry, deliverer, nil)

	sess := NewSession("chat-1", "alice", "say hi", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeMessagesDelivered {
		t.Fatalf("outcome = %v, want messages delivered", outcome.Kind)
	}
	if len(deliverer.delivered()) != 0 {
		t.Errorf("deliverer should not run for terminal tools, got %v", deliverer.delivered())
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", provider.callCount())
	}
}

func TestRunTerminalToolErrorContinues(t *testing.T) {
	tool := &fakeTool{name: "speak", result: &ToolResult{Content: "synthesis failed", IsError: true}}
	registry := NewRegistry()
	if err := registry.Register(tool, AsTerminal()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		toolTurn("c1", "speak", `{"text":"hi"}`),
		textTurn("I could not send a voice note, here it is as text: hi"),
	}}
	o := newOrchestrator(t, Config{}, provider, registry, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "say hi", "")
	outcome := o.Run(context.Background(), sess)

	if outcome.Kind != OutcomeFinalContent {
		t.Fatalf("outcome = %v, want fallback to final content", outcome.Kind)
	}
}

func TestRunSeedsConversationFromHistory(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{textTurn("hi again")}}
	o := newOrchestrator(t, Config{HistoryDepth: 2}, provider, nil, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "and now?", "")
	sess.RecentHistory = []*models.TranscriptRecord{
		{Sender: "alice", Text: "oldest, trimmed away"},
		{Sender: "alice", Text: "first question"},
		{IsFromBot: true, Text: "first answer"},
	}
	o.Run(context.Background(), sess)

	msgs := provider.lastReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3 (2 history + query): %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "user" || msgs[0].Content != "first question" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "first answer" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "and now?" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
}

func TestRunFirstToolCallWins(t *testing.T) {
	tool := &fakeTool{name: "first"}
	other := &fakeTool{name: "second"}
	registry := NewRegistry()
	for _, tl := range []*fakeTool{tool, other} {
		if err := registry.Register(tl); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	provider := &fakeProvider{script: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "first", Input: json.RawMessage(`{}`)}},
			{ToolCall: &models.ToolCall{ID: "c2", Name: "second", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		textTurn("done"),
	}}
	o := newOrchestrator(t, Config{}, provider, registry, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "go", "")
	o.Run(context.Background(), sess)

	if tool.executions() != 1 {
		t.Errorf("first tool executed %d times, want 1", tool.executions())
	}
	if other.executions() != 0 {
		t.Errorf("second tool executed %d times, want 0", other.executions())
	}
}

func TestSystemPromptPersonas(t *testing.T) {
	provider := &fakeProvider{script: [][]*CompletionChunk{textTurn("ok"), textTurn("ok")}}
	o := newOrchestrator(t, Config{
		Personas:       map[string]string{"pirate": "Speak like a pirate.", "plain": "Be plain."},
		DefaultPersona: "plain",
	}, provider, nil, &captureDeliverer{}, nil)

	sess := NewSession("chat-1", "alice", "hello", "pirate")
	o.Run(context.Background(), sess)
	if provider.lastReq.System != "Speak like a pirate." {
		t.Errorf("system = %q", provider.lastReq.System)
	}

	sess = NewSession("chat-2", "alice", "hello", "")
	o.Run(context.Background(), sess)
	if provider.lastReq.System != "Be plain." {
		t.Errorf("default system = %q", provider.lastReq.System)
	}
}
