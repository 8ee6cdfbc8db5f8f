package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/metrics"
	"github.com/phrazzld/scribe/internal/store"
)

// DirectRunner executes a task in-process when capacity allows.
type DirectRunner interface {
	TryRun(id uuid.UUID) bool
}

// BackupPollerConfig tunes the backup poller.
type BackupPollerConfig struct {
	// Interval between scans.
	Interval time.Duration
	// PendingGrace is how old a pending task must be to be re-injected.
	PendingGrace time.Duration
	// StaleProcessing is how long a processing task may go without an update
	// before it is reported.
	StaleProcessing time.Duration
	// BatchSize bounds the tasks handled per scan.
	BatchSize int
}

// PollReport summarizes one scan.
type PollReport struct {
	Found     int
	Requeued  int
	RunDirect int
	Skipped   int
	Stale     int
}

// BackupPoller re-delivers pending tasks that the transport lost. Tasks in
// processing are never reset, only reported: a task that started is not
// retried in place.
type BackupPoller struct {
	store     store.TaskStore
	transport Transport
	runner    DirectRunner
	config    BackupPollerConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// NewBackupPoller creates a poller.
func NewBackupPoller(
	taskStore store.TaskStore,
	transport Transport,
	runner DirectRunner,
	config BackupPollerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*BackupPoller, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if transport == nil || runner == nil {
		return nil, errors.New("transport and runner are required")
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.StaleProcessing <= 0 {
		config.StaleProcessing = 30 * time.Minute
	}

	return &BackupPoller{
		store:     taskStore,
		transport: transport,
		runner:    runner,
		config:    config,
		metrics:   m,
		logger:    logger.With("component", "backup_poller"),
		now:       time.Now,
	}, nil
}

// Start runs a scan immediately and then every Interval.
func (p *BackupPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler != nil {
		return errors.New("backup poller already started")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(p.config.Interval),
		gocron.NewTask(func() {
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.ErrorContext(ctx, "backup poll failed", "error", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule backup poll: %w", err)
	}

	s.Start()
	p.scheduler = s

	p.logger.InfoContext(ctx, "backup poller started",
		"interval", p.config.Interval,
		"pending_grace", p.config.PendingGrace)
	return nil
}

// Stop shuts the scheduler down, waiting for a running scan.
func (p *BackupPoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler == nil {
		return nil
	}
	err := p.scheduler.Shutdown()
	p.scheduler = nil
	return err
}

// RunOnce scans once. Pending tasks past the grace period are pushed to the
// transport; if the transport is unreachable they run in-process up to the
// free capacity of the runner.
func (p *BackupPoller) RunOnce(ctx context.Context) (PollReport, error) {
	var report PollReport
	now := p.now()

	p.reportStale(ctx, now, &report)

	pending, err := p.store.ListPending(ctx, now.Add(-p.config.PendingGrace), p.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	report.Found = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.ID)
	}

	err = p.requeue(ctx, ids)
	if err == nil {
		report.Requeued = len(ids)
		p.metrics.PollerRequeued(len(ids))
		p.logger.InfoContext(ctx, "re-pushed orphaned pending tasks", "count", len(ids))
		return report, nil
	}
	p.logger.WarnContext(ctx, "transport unavailable, running pending tasks directly",
		"count", len(ids),
		"error", err)

	for _, id := range ids {
		if !p.runner.TryRun(id) {
			report.Skipped++
			continue
		}
		report.RunDirect++
		p.metrics.PollerDirectRun()
	}

	if report.Skipped > 0 {
		p.logger.InfoContext(ctx, "worker capacity reached, deferring pending tasks to next poll",
			"deferred", report.Skipped)
	}
	return report, nil
}

func (p *BackupPoller) requeue(ctx context.Context, ids []uuid.UUID) error {
	if err := p.transport.Ping(ctx); err != nil {
		return err
	}
	return p.transport.Push(ctx, ids...)
}

func (p *BackupPoller) reportStale(ctx context.Context, now time.Time, report *PollReport) {
	stale, err := p.store.ListProcessing(ctx, now.Add(-p.config.StaleProcessing), p.config.BatchSize)
	if err != nil {
		p.logger.WarnContext(ctx, "failed to list processing tasks", "error", err)
		return
	}

	report.Stale = len(stale)
	p.metrics.PollerStale(len(stale))
	for _, t := range stale {
		p.logger.WarnContext(ctx, "task stuck in processing",
			"task_id", t.ID,
			"task_type", t.Type,
			"progress", t.Progress,
			"updated_at", t.UpdatedAt)
	}
}
