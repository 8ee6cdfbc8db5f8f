package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/metrics"
	"github.com/phrazzld/scribe/internal/store"
)

// startProgress is written together with the move to processing.
const startProgress = 10

// Common errors
var (
	ErrNilStore   = errors.New("task store cannot be nil")
	ErrNilQuota   = errors.New("quota tracker cannot be nil")
	ErrNilLogger  = errors.New("logger cannot be nil")
	ErrNoHandlers = errors.New("at least one handler is required")
)

// QuotaTracker is the quota surface the executor needs.
type QuotaTracker interface {
	Check(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error)
	Increment(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter, delta int64) error
}

// guardedCounters must all be available before a task does any work.
var guardedCounters = []domain.QuotaCounter{domain.QuotaCounterGenerate, domain.QuotaCounterTokens}

// Executor runs one task through its lifecycle: processing, quota check,
// handler, then completed or failed. It never panics and never returns an
// error; every outcome ends up in the task store or the log.
type Executor struct {
	store    store.TaskStore
	quota    QuotaTracker
	handlers map[domain.TaskType]Handler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewExecutor creates an Executor. m may be nil.
func NewExecutor(
	taskStore store.TaskStore,
	quota QuotaTracker,
	handlers map[domain.TaskType]Handler,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Executor, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if quota == nil {
		return nil, ErrNilQuota
	}
	if len(handlers) == 0 {
		return nil, ErrNoHandlers
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Executor{
		store:    taskStore,
		quota:    quota,
		handlers: handlers,
		metrics:  m,
		logger:   logger.With("component", "task_executor"),
	}, nil
}

// Execute processes the task with the given id. Tasks that are no longer
// pending are skipped, which makes redelivery harmless.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID, workerID int) {
	log := e.logger.With("task_id", id, "worker_id", workerID)

	t, err := e.store.Get(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.WarnContext(ctx, "task not found, dropping queue entry")
			return
		}
		log.ErrorContext(ctx, "failed to load task", "error", err)
		return
	}
	log = log.With("task_type", t.Type)

	if t.Status != domain.TaskStatusPending {
		log.DebugContext(ctx, "task is no longer pending, skipping", "status", t.Status)
		return
	}

	handler, ok := e.handlers[t.Type]
	if !ok {
		e.fail(ctx, log, t, fmt.Errorf("%w: %s", domain.ErrUnsupportedTaskType, t.Type))
		return
	}

	if err := e.store.Claim(ctx, id, startProgress); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			log.DebugContext(ctx, "task claimed by another worker, skipping", "error", err)
		} else {
			log.ErrorContext(ctx, "failed to claim task", "error", err)
		}
		return
	}

	status := domain.TaskStatusFailed
	started := time.Now()
	e.metrics.TaskStarted()
	defer func() {
		e.metrics.TaskFinished(string(t.Type), string(status), time.Since(started))
	}()

	log.InfoContext(ctx, "processing task")

	for _, counter := range guardedCounters {
		avail, err := e.quota.Check(ctx, t.UserID, counter)
		if err != nil {
			e.fail(ctx, log, t, fmt.Errorf("quota check failed: %w", err))
			return
		}
		if err := avail.Err(); err != nil {
			log.InfoContext(ctx, "quota exhausted, failing task without provider call",
				"counter", counter,
				"used", avail.Used,
				"limit", avail.Limit)
			e.fail(ctx, log, t, err)
			return
		}
	}

	outcome, err := e.run(ctx, log, handler, t)
	if err != nil {
		e.fail(ctx, log, t, err)
		return
	}

	result, err := json.Marshal(outcome.Result)
	if err != nil {
		e.fail(ctx, log, t, fmt.Errorf("failed to encode result: %w", err))
		return
	}

	if err := e.quota.Increment(ctx, t.UserID, domain.QuotaCounterGenerate, 1); err != nil {
		log.ErrorContext(ctx, "failed to record generate usage", "error", err)
	}
	if err := e.quota.Increment(ctx, t.UserID, domain.QuotaCounterTokens, int64(outcome.Tokens)); err != nil {
		log.ErrorContext(ctx, "failed to record token usage", "tokens", outcome.Tokens, "error", err)
	}

	if err := e.update(ctx, log, id, domain.TaskStatusCompleted, domain.TaskUpdate{Result: result}); err != nil {
		return
	}
	status = domain.TaskStatusCompleted

	log.InfoContext(ctx, "task completed",
		"tokens", outcome.Tokens,
		"duration_ms", time.Since(started).Milliseconds())
}

func (e *Executor) run(ctx context.Context, log *slog.Logger, h Handler, t *domain.Task) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "task handler panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()

	report := func(percent int) {
		p := min(max(percent, 0), 100)
		_ = e.update(ctx, log, t.ID, domain.TaskStatusProcessing, domain.TaskUpdate{Progress: &p})
	}
	return h.Handle(ctx, t, report)
}

func (e *Executor) fail(ctx context.Context, log *slog.Logger, t *domain.Task, cause error) {
	log.WarnContext(ctx, "task failed", "error", cause)
	_ = e.update(ctx, log, t.ID, domain.TaskStatusFailed, domain.TaskUpdate{Error: cause.Error()})
}

// update writes a status change. A rejected transition means another writer
// finished the task first; it is logged and reported to the caller so it
// can stop, but it is not an error condition for the worker.
func (e *Executor) update(
	ctx context.Context,
	log *slog.Logger,
	id uuid.UUID,
	status domain.TaskStatus,
	update domain.TaskUpdate,
) error {
	err := e.store.UpdateStatus(ctx, id, status, update)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		log.WarnContext(ctx, "ignoring write to finished task", "status", status, "error", err)
	default:
		log.ErrorContext(ctx, "failed to update task status", "status", status, "error", err)
	}
	return err
}
