package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by transports
var (
	ErrTransportClosed = errors.New("task transport is closed")
	ErrQueueFull       = errors.New("task queue is full")
	ErrInvalidEntry    = errors.New("invalid task queue entry")
)

// Transport is a FIFO of task identifiers.
type Transport interface {
	// Push appends identifiers without blocking on consumers.
	Push(ctx context.Context, ids ...uuid.UUID) error

	// NewConsumer opens a consumer with its own connection.
	NewConsumer() (Consumer, error)

	// Ping reports whether the transport is reachable.
	Ping(ctx context.Context) error
}

// Consumer pops identifiers from a Transport.
type Consumer interface {
	// Pop blocks up to timeout for one identifier. ok is false when the
	// timeout elapsed with nothing to pop; that is not an error.
	Pop(ctx context.Context, timeout time.Duration) (id uuid.UUID, ok bool, err error)

	// Close releases the consumer's connection.
	Close() error
}
