package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/metrics"
	"github.com/phrazzld/scribe/internal/store"
)

// DefaultHistoryCapacity bounds pending history writes.
const DefaultHistoryCapacity = 128

// HistoryRecorder persists chat exchanges off the request path with one
// writer goroutine. When the queue is full the oldest pending exchange is
// dropped, so writes are at most once and the newest survive overflow.
// Exchanges still queued when the process dies are lost.
type HistoryRecorder struct {
	store   store.HistoryStore
	queue   chan []domain.ChatMessage
	metrics *metrics.Metrics
	logger  *slog.Logger

	// writeTimeout bounds one Append.
	writeTimeout time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewHistoryRecorder creates a recorder with room for capacity pending
// exchanges.
func NewHistoryRecorder(historyStore store.HistoryStore, capacity int, m *metrics.Metrics, logger *slog.Logger) (*HistoryRecorder, error) {
	if historyStore == nil || logger == nil {
		return nil, ErrNilDependency
	}
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryRecorder{
		store:        historyStore,
		queue:        make(chan []domain.ChatMessage, capacity),
		metrics:      m,
		logger:       logger.With("component", "history_recorder"),
		writeTimeout: 5 * time.Second,
	}, nil
}

// Record queues an exchange without blocking.
func (r *HistoryRecorder) Record(exchange []domain.ChatMessage) {
	if len(exchange) == 0 {
		return
	}
	for {
		select {
		case r.queue <- exchange:
			return
		default:
		}

		select {
		case dropped := <-r.queue:
			r.metrics.HistoryDropped()
			r.logger.Warn("history queue full, dropping oldest exchange",
				"session_id", dropped[0].SessionID)
		default:
		}
	}
}

// Pending returns the number of queued exchanges.
func (r *HistoryRecorder) Pending() int {
	return len(r.queue)
}

// Start launches the writer.
func (r *HistoryRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("history recorder already running")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.write(r.stop, r.done)
	return nil
}

// Stop flushes what is queued and stops the writer, giving up when ctx ends.
func (r *HistoryRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *HistoryRecorder) write(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case exchange := <-r.queue:
			r.append(exchange)
		case <-stop:
			for {
				select {
				case exchange := <-r.queue:
					r.append(exchange)
				default:
					return
				}
			}
		}
	}
}

func (r *HistoryRecorder) append(exchange []domain.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.Append(ctx, exchange); err != nil {
		r.logger.Error("failed to persist chat history",
			"session_id", exchange[0].SessionID,
			"error", err)
	}
}
