package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxToolParamBytes = 64 * 1024

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Registration is a tool plus its session policy.
type Registration struct {
	Tool Tool

	// Quota caps executions per session; 0 means unlimited.
	Quota int

	// Terminal marks a tool whose successful run ends the session with
	// the output already delivered to the chat.
	Terminal bool
}

// RegisterOption configures a tool registration.
type RegisterOption func(*Registration)

// WithQuota limits the tool to n executions per session.
func WithQuota(n int) RegisterOption {
	return func(r *Registration) { r.Quota = n }
}

// AsTerminal marks the tool as delivering its own output.
func AsTerminal() RegisterOption {
	return func(r *Registration) { r.Terminal = true }
}

// Registry holds the tools available to sessions.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Registration
	schemas sync.Map
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Registration)}
}

// Register adds a tool. Registering a name twice replaces the earlier entry.
func (r *Registry) Register(tool Tool, opts ...RegisterOption) error {
	if tool == nil {
		return fmt.Errorf("agent: nil tool")
	}
	if !toolNamePattern.MatchString(tool.Name()) {
		return fmt.Errorf("agent: invalid tool name %q", tool.Name())
	}
	reg := &Registration{Tool: tool}
	for _, opt := range opts {
		opt(reg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = reg
	return nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Tools returns the registered tools for inclusion in completion requests.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.Tool)
	}
	return out
}

// Execute validates params against the tool's schema and runs it. The
// caller is responsible for quota accounting; Execute only guards the
// request shape.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(params) > maxToolParamBytes {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters too large (%d bytes)", len(params)),
			IsError: true,
		}, nil
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	if err := r.validate(reg.Tool, params); err != nil {
		return &ToolResult{
			Content: fmt.Sprintf("invalid parameters: %v", err),
			IsError: true,
		}, nil
	}
	return reg.Tool.Execute(ctx, params)
}

func (r *Registry) validate(tool Tool, params json.RawMessage) error {
	schema := tool.Schema()
	if len(schema) == 0 {
		return nil
	}
	compiled, err := r.compileSchema(tool.Name(), schema)
	if err != nil {
		// A broken schema should not block the tool.
		return nil
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return compiled.Validate(decoded)
}

func (r *Registry) compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := r.schemas.Load(name); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	r.schemas.Store(name, compiled)
	return compiled, nil
}
