package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/metrics"
	"github.com/phrazzld/scribe/internal/quota"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
	"github.com/phrazzld/scribe/internal/stream"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// application holds the wired components and owns their lifecycle.
type application struct {
	config *config.Config
	logger *slog.Logger
	infra  *infrastructure

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	jwtService  auth.JWTService
	quota       *quota.Tracker
	pool        *task.WorkerPool
	poller      *task.BackupPoller
	streams     *stream.Manager
	recorder    *service.HistoryRecorder
	taskService *service.TaskService
	chatService *service.ChatService
}

// newApplication wires services on top of infra.
func newApplication(cfg *config.Config, logger *slog.Logger, infra *infrastructure) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		infra:    infra,
		registry: prometheus.NewRegistry(),
	}

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var err error
	if app.metrics, err = metrics.New(app.registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if app.jwtService, err = auth.NewJWTService(cfg.Auth); err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.quota, err = quota.NewTracker(infra.quotas, domain.QuotaLimits{
		DailyChat:     cfg.Quota.DailyChatLimit,
		DailyGenerate: cfg.Quota.DailyGenerateLimit,
		MonthlyTokens: cfg.Quota.MonthlyTokenLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota tracker: %w", err)
	}

	provider := llm.NewRetryingProvider(infra.provider, llm.RetryConfig{
		MaxRetries:     cfg.LLM.MaxRetries,
		InitialDelay:   cfg.LLM.RetryDelay(),
		RequestTimeout: cfg.LLM.RequestTimeout(),
		OnRetry:        app.metrics.ProviderRetry,
	}, logger)

	if err := app.setupTasks(provider); err != nil {
		return nil, err
	}
	if err := app.setupStreams(provider); err != nil {
		return nil, err
	}

	logger.Info("application initialized",
		"worker_concurrency", cfg.Worker.Concurrency,
		"cross_instance_cancel", infra.bus != nil)
	return app, nil
}

func (app *application) setupTasks(provider llm.Provider) error {
	cfg := app.config

	executor, err := task.NewExecutor(app.infra.tasks, app.quota, task.NewHandlers(provider), app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create task executor: %w", err)
	}

	app.pool = task.NewWorkerPool(app.infra.transport, executor, task.NewClaimSet(), task.WorkerPoolConfig{
		Concurrency: cfg.Worker.Concurrency,
		PollTimeout: cfg.Queue.PollTimeout(),
	}, app.metrics, app.logger)

	app.poller, err = task.NewBackupPoller(app.infra.tasks, app.infra.transport, app.pool, task.BackupPollerConfig{
		Interval:        cfg.Queue.BackupPollInterval(),
		PendingGrace:    cfg.Queue.PendingGrace(),
		StaleProcessing: cfg.Queue.StaleProcessing(),
		BatchSize:       cfg.Queue.BackupBatchSize,
	}, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create backup poller: %w", err)
	}

	app.taskService, err = service.NewTaskService(app.infra.tasks, app.infra.transport, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}
	return nil
}

func (app *application) setupStreams(provider llm.Provider) error {
	cfg := app.config

	tools := stream.NewRegistry()
	if app.infra.tools != nil {
		if err := tools.AddSource(app.infra.tools); err != nil {
			return fmt.Errorf("failed to register MCP tools: %w", err)
		}
	}

	controller, err := stream.NewController(provider, tools, stream.ControllerConfig{
		MaxTurns:    cfg.Stream.MaxToolTurns,
		ToolTimeout: cfg.LLM.RequestTimeout(),
	}, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create stream controller: %w", err)
	}

	var bus stream.CancelBroadcaster
	if app.infra.bus != nil {
		bus = app.infra.bus
	}
	app.streams, err = stream.NewManager(controller, bus, stream.ManagerConfig{
		FinishedCacheSize: cfg.Stream.FinishedSessionCacheSize,
	}, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create stream manager: %w", err)
	}

	app.recorder, err = service.NewHistoryRecorder(app.infra.history, service.DefaultHistoryCapacity, app.metrics, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create history recorder: %w", err)
	}

	app.chatService, err = service.NewChatService(
		app.streams,
		app.quota,
		service.NewUserLimiter(cfg.Worker.MaxConcurrentPerUser),
		app.recorder,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}
	return nil
}

// start launches the background components.
func (app *application) start(ctx context.Context) error {
	if err := app.recorder.Start(); err != nil {
		return fmt.Errorf("failed to start history recorder: %w", err)
	}
	if err := app.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := app.poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start backup poller: %w", err)
	}
	if app.infra.bus != nil {
		if err := app.infra.bus.Listen(ctx, func(sessionID string, userID uuid.UUID) {
			app.streams.CancelLocal(sessionID, userID)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to stream cancellations: %w", err)
		}
	}
	return nil
}

// Run starts everything, serves HTTP until ctx is done and then shuts down.
func (app *application) Run(ctx context.Context) error {
	defer app.infra.close(app.logger)

	if err := app.start(ctx); err != nil {
		app.stop(context.Background())
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app.serve(ctx, server)
}

// stop shuts the background components down in dependency order. Streams are
// cancelled first so their handlers return and record what they produced.
func (app *application) stop(ctx context.Context) {
	if n := app.streams.CancelAll(); n > 0 {
		app.logger.Info("cancelled active streams", "count", n)
	}
	if err := app.poller.Stop(); err != nil {
		app.logger.Error("backup poller stop failed", "error", err)
	}
	if err := app.pool.Stop(ctx); err != nil {
		app.logger.Error("worker pool stop failed", "error", err)
	}
	if err := app.recorder.Stop(ctx); err != nil {
		app.logger.Error("history recorder stop failed", "error", err)
	}
	if app.infra.bus != nil {
		if err := app.infra.bus.Close(); err != nil {
			app.logger.Error("cancel bus close failed", "error", err)
		}
	}
}
