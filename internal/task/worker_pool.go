package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// popErrorBackoff is the pause after a failed pop before the loop retries.
const popErrorBackoff = time.Second

// TaskExecutor runs one task to a terminal state.
type TaskExecutor interface {
	Execute(ctx context.Context, id uuid.UUID, workerID int)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// Concurrency is both the number of consumer loops and the cap on tasks
	// executing at once. If zero or negative, defaults to 1.
	Concurrency int

	// PollTimeout bounds each blocking pop. Defaults to 5s.
	PollTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Concurrency: 3,
		PollTimeout: 5 * time.Second,
	}
}

// WorkerPool runs one consumer loop per slot. Popped tasks run
// asynchronously, each holding one of Concurrency slots, and a loop waits for
// a free slot before dispatching, so no more than Concurrency tasks run at
// once. Direct runs from the backup poller draw from the same slots.
type WorkerPool struct {
	transport Transport
	executor  TaskExecutor
	claims    *ClaimSet
	slots     *semaphore.Weighted
	config    WorkerPoolConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	taskCtx   context.Context
	loops     sync.WaitGroup
	inFlight  sync.WaitGroup
	consumers []Consumer
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	transport Transport,
	executor TaskExecutor,
	claims *ClaimSet,
	config WorkerPoolConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *WorkerPool {
	if config.Concurrency <= 0 {
		logger.Warn("invalid worker concurrency specified, using default",
			"specified_count", config.Concurrency,
			"default_count", 1)
		config.Concurrency = 1
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultWorkerPoolConfig().PollTimeout
	}
	if claims == nil {
		claims = NewClaimSet()
	}

	return &WorkerPool{
		transport: transport,
		executor:  executor,
		claims:    claims,
		slots:     semaphore.NewWeighted(int64(config.Concurrency)),
		config:    config,
		metrics:   m,
		logger:    logger.With("component", "worker_pool"),
	}
}

// Start opens one consumer per slot and starts the consumer loops. Tasks run
// on a context detached from ctx's cancellation so Stop can drain them.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return errors.New("worker pool already started")
	}

	consumers := make([]Consumer, 0, p.config.Concurrency)
	for i := 0; i < p.config.Concurrency; i++ {
		c, err := p.transport.NewConsumer()
		if err != nil {
			for _, opened := range consumers {
				_ = opened.Close()
			}
			return fmt.Errorf("failed to open consumer %d: %w", i, err)
		}
		consumers = append(consumers, c)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.taskCtx = context.WithoutCancel(ctx)
	p.consumers = consumers

	for i, c := range consumers {
		p.loops.Add(1)
		go p.consume(loopCtx, i, c)
	}

	p.logger.Info("worker pool started",
		"concurrency", p.config.Concurrency,
		"poll_timeout", p.config.PollTimeout)
	return nil
}

// Stop ends the consumer loops and waits for in-flight tasks until ctx is
// done.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	p.loops.Wait()

	for _, c := range p.consumers {
		if err := c.Close(); err != nil {
			p.logger.Warn("failed to close consumer", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out with tasks in flight", "in_flight", p.claims.Len())
		return ctx.Err()
	}
}

// TryRun executes id in-process if a slot is free and the id is not already
// claimed. It reports whether the task was dispatched.
func (p *WorkerPool) TryRun(id uuid.UUID) bool {
	p.mu.Lock()
	taskCtx := p.taskCtx
	p.mu.Unlock()

	if taskCtx == nil {
		return false
	}
	if !p.slots.TryAcquire(1) {
		return false
	}
	if !p.claims.TryClaim(id) {
		p.slots.Release(1)
		return false
	}

	p.dispatch(taskCtx, id, -1)
	return true
}

// Claims returns the pool's claim set.
func (p *WorkerPool) Claims() *ClaimSet {
	return p.claims
}

func (p *WorkerPool) consume(ctx context.Context, workerID int, consumer Consumer) {
	defer p.loops.Done()

	log := p.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	for {
		id, ok, err := consumer.Pop(ctx, p.config.PollTimeout)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			p.metrics.QueuePop("error")
			log.Error("failed to pop task", "error", err)
			if errors.Is(err, ErrTransportClosed) {
				return
			}
			select {
			case <-time.After(popErrorBackoff):
			case <-ctx.Done():
				return
			}

		case !ok:
			p.metrics.QueuePop("timeout")

		case !p.claims.TryClaim(id):
			p.metrics.QueuePop("duplicate")
			log.Debug("task already claimed, skipping duplicate delivery", "task_id", id)

		default:
			p.metrics.QueuePop("task")
			// The loop stops popping until a slot frees up. If shutdown wins,
			// the task is still pending in the store and the backup poller
			// delivers it again.
			if err := p.slots.Acquire(ctx, 1); err != nil {
				p.claims.Release(id)
				log.Info("stopping worker with undispatched task", "task_id", id)
				return
			}
			p.dispatch(p.taskCtx, id, workerID)
		}
	}
}

// dispatch runs the task asynchronously. The caller holds a slot and the
// claim; both are released when the task finishes.
func (p *WorkerPool) dispatch(ctx context.Context, id uuid.UUID, workerID int) {
	p.inFlight.Add(1)
	go func() {
		defer p.inFlight.Done()
		defer p.slots.Release(1)
		defer p.claims.Release(id)

		p.executor.Execute(ctx, id, workerID)
	}()
}
