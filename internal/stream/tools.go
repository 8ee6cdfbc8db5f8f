package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/phrazzld/scribe/internal/llm"
)

// Tool is a function the model may call.
type Tool interface {
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolSource is a catalog of tools served elsewhere, such as an MCP server.
type ToolSource interface {
	Specs() []llm.ToolSpec
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc struct {
	Definition llm.ToolSpec
	Fn         func(ctx context.Context, args json.RawMessage) (string, error)
}

// Spec returns the definition.
func (t ToolFunc) Spec() llm.ToolSpec { return t.Definition }

// Invoke calls Fn.
func (t ToolFunc) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

type sourceTool struct {
	spec   llm.ToolSpec
	source ToolSource
}

func (t sourceTool) Spec() llm.ToolSpec { return t.spec }

func (t sourceTool) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return t.source.Call(ctx, t.spec.Name, args)
}

// Registry holds the tools advertised to the model. A nil Registry has no tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Spec().Name)
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// AddSource registers every tool src currently offers.
func (r *Registry) AddSource(src ToolSource) error {
	for _, spec := range src.Specs() {
		if err := r.Register(sourceTool{spec: spec, source: src}); err != nil {
			return err
		}
	}
	return nil
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the tool definitions sorted by name.
func (r *Registry) Specs() []llm.ToolSpec {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, t.Spec())
	}
	slices.SortFunc(specs, func(a, b llm.ToolSpec) int { return strings.Compare(a.Name, b.Name) })
	return specs
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// normalizeArgs returns args as valid JSON, repairing what models commonly
// get wrong (trailing commas, single quotes, truncated objects).
func normalizeArgs(args json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(args))) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if json.Valid(args) {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(args))
	if err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	return json.RawMessage(repaired), nil
}

// toolResultContent is what the model sees for a tool call.
func toolResultContent(result string, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}
