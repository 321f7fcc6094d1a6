package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type schemaTool struct {
	fakeTool
	schema string
}

func (t *schemaTool) Schema() json.RawMessage { return json.RawMessage(t.schema) }

func TestRegistryRejectsBadNames(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"", "has space", "bad!chars", strings.Repeat("x", 65)} {
		if err := registry.Register(&fakeTool{name: name}); err == nil {
			t.Errorf("name %q accepted, want error", name)
		}
	}
	if err := registry.Register(&fakeTool{name: "web_search"}); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}

func TestRegistryRegisterOptions(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "search"}, WithQuota(3)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(&fakeTool{name: "speak"}, AsTerminal()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reg, ok := registry.Lookup("search")
	if !ok || reg.Quota != 3 || reg.Terminal {
		t.Errorf("search registration = %+v", reg)
	}
	reg, ok = registry.Lookup("speak")
	if !ok || !reg.Terminal || reg.Quota != 0 {
		t.Errorf("speak registration = %+v", reg)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Execute(context.Background(), "missing", nil); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryExecuteValidatesSchema(t *testing.T) {
	tool := &schemaTool{
		fakeTool: fakeTool{name: "echo"},
		schema:   `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
	}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Missing required field comes back as an error-shaped result, not a
	// Go error, so the model can correct itself.
	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "invalid parameters") {
		t.Errorf("result = %+v", result)
	}
	if tool.executions() != 0 {
		t.Errorf("tool ran despite invalid parameters")
	}

	result, err = registry.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Errorf("valid parameters rejected: %+v", result)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.executions())
	}
}

func TestRegistryExecuteMalformedJSON(t *testing.T) {
	tool := &schemaTool{
		fakeTool: fakeTool{name: "echo"},
		schema:   `{"type":"object"}`,
	}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{not json`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Errorf("malformed params accepted: %+v", result)
	}
}

func TestRegistryExecuteOversizeParams(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	big := json.RawMessage(`{"text":"` + strings.Repeat("a", maxToolParamBytes) + `"}`)
	result, err := registry.Execute(context.Background(), "echo", big)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "too large") {
		t.Errorf("result = %+v", result)
	}
}

func TestRegistryExecuteEmptyParams(t *testing.T) {
	tool := &fakeTool{name: "ping"}
	registry := NewRegistry()
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := registry.Execute(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Execute with nil params: %v", err)
	}
	if tool.executions() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.executions())
	}
}
