package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChannelTransport is an in-process Transport backed by a buffered channel.
// It is not durable; the backup poller recovers anything lost on restart.
type ChannelTransport struct {
	ids    chan uuid.UUID
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Transport = (*ChannelTransport)(nil)

// NewChannelTransport creates a transport holding up to size identifiers.
func NewChannelTransport(size int, logger *slog.Logger) *ChannelTransport {
	if size <= 0 {
		size = 100
	}
	return &ChannelTransport{
		ids:    make(chan uuid.UUID, size),
		logger: logger.With("component", "channel_transport"),
	}
}

// Push adds identifiers to the queue. Returns ErrQueueFull when the buffer
// has no room for the next identifier; earlier identifiers stay queued.
func (q *ChannelTransport) Push(ctx context.Context, ids ...uuid.UUID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrTransportClosed
	}

	for _, id := range ids {
		select {
		case q.ids <- id:
			q.logger.Debug("task enqueued",
				"task_id", id,
				"queue_len", len(q.ids),
				"queue_cap", cap(q.ids))
		default:
			return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
		}
	}
	return nil
}

// NewConsumer returns a consumer reading from the shared channel.
func (q *ChannelTransport) NewConsumer() (Consumer, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrTransportClosed
	}
	return channelConsumer{ids: q.ids}, nil
}

// Ping fails once the transport is closed.
func (q *ChannelTransport) Ping(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrTransportClosed
	}
	return nil
}

// Len returns the number of queued identifiers.
func (q *ChannelTransport) Len() int {
	return len(q.ids)
}

// Close stops accepting pushes. Queued identifiers can still be popped.
func (q *ChannelTransport) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ids)
		q.logger.Info("task transport closed")
	}
}

type channelConsumer struct {
	ids <-chan uuid.UUID
}

func (c channelConsumer) Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id, ok := <-c.ids:
		if !ok {
			return uuid.Nil, false, ErrTransportClosed
		}
		return id, true, nil
	case <-timer.C:
		return uuid.Nil, false, nil
	case <-ctx.Done():
		return uuid.Nil, false, ctx.Err()
	}
}

func (c channelConsumer) Close() error {
	return nil
}
