package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role is the author of a message in a conversation.
type Role string

// Message roles
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of the conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolSpec advertises a callable tool to the model. Parameters is a JSON
// schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a provider-neutral generation request.
type Request struct {
	Messages    []Message
	Tools       []ToolSpec
	Temperature float32
	MaxTokens   int
}

// Usage reports token consumption when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is the aggregated result of one model call.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Chunk is one incremental piece of a streamed response. Tool calls may
// arrive on any chunk; providers deliver each call whole.
type Chunk struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// ChunkFunc receives stream chunks in order. Returning an error stops the
// stream and Stream returns that error.
type ChunkFunc func(Chunk) error

// Provider generates model output.
type Provider interface {
	// Invoke performs one non-streaming call.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Stream performs one streaming call, invoking onChunk synchronously for
	// each chunk before reading the next.
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) error
}

// Kind selects a concrete provider implementation.
type Kind string

// Supported provider kinds
const (
	KindGemini Kind = "gemini"
	KindOllama Kind = "ollama"
)

// ParseKind validates a configured provider name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindGemini, KindOllama:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, s)
}

// Collect aggregates a stream into a Response.
func Collect(ctx context.Context, p Provider, req Request) (*Response, error) {
	var resp Response
	err := p.Stream(ctx, req, func(c Chunk) error {
		resp.Content += c.Content
		resp.ToolCalls = append(resp.ToolCalls, c.ToolCalls...)
		if c.Usage != nil {
			resp.Usage = *c.Usage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserPrompt builds a single-message request.
func UserPrompt(prompt string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
