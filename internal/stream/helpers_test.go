package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/phrazzld/scribe/internal/llm"
	"github.com/stretchr/testify/require"
)

// recorder collects emitted effects.
type recorder struct {
	mu      sync.Mutex
	effects []Effect
	// onEffect runs after each effect is recorded.
	onEffect func(Effect) error
}

func (r *recorder) emit(e Effect) error {
	r.mu.Lock()
	r.effects = append(r.effects, e)
	hook := r.onEffect
	r.mu.Unlock()

	if hook != nil {
		return hook(e)
	}
	return nil
}

func (r *recorder) kinds() []EffectKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EffectKind, 0, len(r.effects))
	for _, e := range r.effects {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) chunks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.effects {
		if e.Kind == EffectChunk {
			out = append(out, e.Text)
		}
	}
	return out
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func newTestController(t *testing.T, provider llm.Provider, tools *Registry, cfg ControllerConfig) *Controller {
	t.Helper()
	logger, _ := testLogger()
	c, err := NewController(provider, tools, cfg, nil, logger)
	require.NoError(t, err)
	return c
}

func userMessages(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func echoTool(calls *int, mu *sync.Mutex) Tool {
	return ToolFunc{
		Definition: llm.ToolSpec{Name: "echo", Description: "Echo the input", Parameters: map[string]any{"type": "object"}},
		Fn: func(_ context.Context, args json.RawMessage) (string, error) {
			mu.Lock()
			*calls++
			mu.Unlock()
			return string(args), nil
		},
	}
}
