package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/pkg/models"
)

func seededStore(t *testing.T, chatID string, n int) storage.TranscriptStore {
	t.Helper()
	store := storage.NewMemoryStore(0)
	for i := 0; i < n; i++ {
		rec := &models.TranscriptRecord{
			Sender:    "alice",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
		}
		if i%2 == 1 {
			rec.IsFromBot = true
			rec.Sender = "bot"
		}
		if err := store.Append(context.Background(), chatID, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return store
}

func TestExecuteFormatsTranscript(t *testing.T) {
	tool := New(seededStore(t, "chat-1", 4))
	ctx := agent.WithChatID(context.Background(), "chat-1")

	result, err := tool.Execute(ctx, json.RawMessage(`{"count":3}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	lines := strings.Split(strings.TrimSpace(result.Content), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d: %q", len(lines), result.Content)
	}
	// Bot records render as "assistant" regardless of stored sender.
	if !strings.Contains(lines[0], "alice: message 1") && !strings.Contains(lines[0], "assistant: message 1") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(result.Content, "assistant: message 3") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestExecuteWithoutChatContext(t *testing.T) {
	tool := New(seededStore(t, "chat-1", 2))

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Errorf("missing chat context accepted: %+v", result)
	}
}

func TestExecuteEmptyHistory(t *testing.T) {
	tool := New(storage.NewMemoryStore(0))
	ctx := agent.WithChatID(context.Background(), "chat-1")

	result, err := tool.Execute(ctx, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || !strings.Contains(result.Content, "no earlier messages") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteCapsLookback(t *testing.T) {
	store := seededStore(t, "chat-1", 5)
	tool := New(store)
	ctx := agent.WithChatID(context.Background(), "chat-1")

	result, err := tool.Execute(ctx, json.RawMessage(`{"count":100000}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	lines := strings.Split(strings.TrimSpace(result.Content), "\n")
	if len(lines) != 5 {
		t.Errorf("lines = %d", len(lines))
	}
}
