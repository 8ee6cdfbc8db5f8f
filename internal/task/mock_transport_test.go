package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTransport is a Transport whose behavior is set per test through Fn
// fields. Without Fn fields it queues pushed identifiers in memory.
type MockTransport struct {
	PushFn        func(ctx context.Context, ids ...uuid.UUID) error
	PingFn        func(ctx context.Context) error
	NewConsumerFn func() (Consumer, error)

	mu     sync.Mutex
	pushed []uuid.UUID
}

var _ Transport = (*MockTransport)(nil)

// Push calls PushFn if set and records ids unless it failed.
func (m *MockTransport) Push(ctx context.Context, ids ...uuid.UUID) error {
	if m.PushFn != nil {
		if err := m.PushFn(ctx, ids...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, ids...)
	return nil
}

// Ping calls PingFn, or succeeds.
func (m *MockTransport) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

// NewConsumer calls NewConsumerFn, or returns a consumer that pops pushed
// identifiers in order.
func (m *MockTransport) NewConsumer() (Consumer, error) {
	if m.NewConsumerFn != nil {
		return m.NewConsumerFn()
	}
	return &mockConsumer{transport: m}, nil
}

// Queued returns the identifiers pushed and not yet popped.
func (m *MockTransport) Queued() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.pushed...)
}

func (m *MockTransport) take() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pushed) == 0 {
		return uuid.Nil, false
	}
	id := m.pushed[0]
	m.pushed = m.pushed[1:]
	return id, true
}

type mockConsumer struct {
	transport *MockTransport
}

func (c *mockConsumer) Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if id, ok := c.transport.take(); ok {
			return id, true, nil
		}
		if time.Now().After(deadline) {
			return uuid.Nil, false, nil
		}
		select {
		case <-ctx.Done():
			return uuid.Nil, false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *mockConsumer) Close() error {
	return nil
}
