package llm

import (
	"context"
	"sync"
)

// MockProvider is a Provider whose behavior is set per test through Fn fields.
// Calls are counted and recorded.
type MockProvider struct {
	InvokeFn func(ctx context.Context, req Request) (*Response, error)
	StreamFn func(ctx context.Context, req Request, onChunk ChunkFunc) error

	mu       sync.Mutex
	requests []Request
}

var _ Provider = (*MockProvider)(nil)

// Invoke calls InvokeFn, or returns an empty response.
func (m *MockProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	m.record(req)
	if m.InvokeFn != nil {
		return m.InvokeFn(ctx, req)
	}
	return &Response{}, nil
}

// Stream calls StreamFn, or emits nothing.
func (m *MockProvider) Stream(ctx context.Context, req Request, onChunk ChunkFunc) error {
	m.record(req)
	if m.StreamFn != nil {
		return m.StreamFn(ctx, req, onChunk)
	}
	return nil
}

// Calls returns the number of Invoke and Stream calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockProvider) record(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

// StreamText returns a StreamFn that emits each piece as one chunk.
func StreamText(pieces ...string) func(ctx context.Context, req Request, onChunk ChunkFunc) error {
	return func(ctx context.Context, req Request, onChunk ChunkFunc) error {
		for _, p := range pieces {
			if err := onChunk(Chunk{Content: p}); err != nil {
				return err
			}
		}
		return nil
	}
}
