package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/platform/gemini"
	"github.com/phrazzld/scribe/internal/platform/mcptools"
	"github.com/phrazzld/scribe/internal/platform/ollama"
	"github.com/phrazzld/scribe/internal/platform/postgres"
	"github.com/phrazzld/scribe/internal/platform/redisqueue"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/stream"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/redis/go-redis/v9"
)

// cancelBus broadcasts stream cancellation between instances.
type cancelBus interface {
	stream.CancelBroadcaster
	Listen(ctx context.Context, onCancel func(sessionID string, userID uuid.UUID)) error
	Close() error
}

// infrastructure is everything the application talks to outside the process.
// The bus and tools fields may be nil.
type infrastructure struct {
	tasks     store.TaskStore
	quotas    store.QuotaStore
	history   store.HistoryStore
	transport task.Transport
	bus       cancelBus
	provider  llm.Provider
	tools     stream.ToolSource

	closers []func() error
}

// connectInfrastructure opens PostgreSQL, Redis, the LLM provider and the
// optional MCP tool server.
func connectInfrastructure(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{}
	ok := false
	defer func() {
		if !ok {
			infra.close(logger)
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	infra.closers = append(infra.closers, db.Close)
	logger.Info("database connection established")
	infra.setStores(db)

	if cfg.Queue.Transport == config.TransportMemory {
		infra.setLocalTransport(cfg.Queue, logger)
		logger.Warn("using in-process task transport; run a single instance only")
	} else {
		redisClient, err := redisqueue.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, redisClient.Close)
		logger.Info("redis connection established")
		if err := infra.setRedis(redisClient, cfg.Redis, logger); err != nil {
			return nil, err
		}
	}

	if infra.provider, err = newProvider(ctx, cfg.LLM, logger); err != nil {
		return nil, err
	}

	if cfg.Stream.MCPCommand != "" {
		src, err := mcptools.ConnectCommand(ctx, cfg.Stream.MCPCommand, logger)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, src.Close)
		infra.tools = src
	}

	ok = true
	return infra, nil
}

func (i *infrastructure) setStores(db *sql.DB) {
	i.tasks = postgres.NewTaskStore(db)
	i.quotas = postgres.NewQuotaStore(db)
	i.history = postgres.NewHistoryStore(db)
}

func (i *infrastructure) setRedis(client *redis.Client, cfg config.RedisConfig, logger *slog.Logger) error {
	transport, err := redisqueue.NewTransport(client, cfg.QueueKey, logger)
	if err != nil {
		return err
	}
	bus, err := redisqueue.NewCancelBus(client, cfg.CancelChannel, logger)
	if err != nil {
		return err
	}
	i.transport = transport
	i.bus = bus
	return nil
}

// setLocalTransport hands tasks off through an in-process buffer. There is
// no cancel bus: every stream lives in this process.
func (i *infrastructure) setLocalTransport(cfg config.QueueConfig, logger *slog.Logger) {
	transport := task.NewChannelTransport(cfg.MemoryCapacity, logger)
	i.transport = transport
	i.closers = append(i.closers, func() error {
		transport.Close()
		return nil
	})
}

// close releases connections in reverse order of opening.
func (i *infrastructure) close(logger *slog.Logger) {
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			logger.Error("failed to close resource", "error", err)
		}
	}
	i.closers = nil
}

// newProvider builds the configured provider.
func newProvider(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	kind, err := llm.ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var base llm.Provider
	switch kind {
	case llm.KindGemini:
		base, err = gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, ModelName: cfg.ModelName}, logger)
	case llm.KindOllama:
		base, err = ollama.New(ollama.Config{Host: cfg.OllamaHost, ModelName: cfg.ModelName}, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", kind, err)
	}

	logger.Info("LLM provider initialized", "provider", cfg.Provider, "model", cfg.ModelName)
	return base, nil
}
