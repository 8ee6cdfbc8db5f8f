package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/task"
)

// TaskPage is one page of a user's tasks.
type TaskPage struct {
	Tasks    []domain.TaskView `json:"tasks"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// TaskService manages background tasks on behalf of callers.
type TaskService struct {
	tasks     store.TaskStore
	transport task.Transport
	logger    *slog.Logger
}

// NewTaskService creates a TaskService.
func NewTaskService(tasks store.TaskStore, transport task.Transport, logger *slog.Logger) (*TaskService, error) {
	if tasks == nil || transport == nil {
		return nil, fmt.Errorf("%w: task store and transport are required", ErrNilDependency)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger", ErrNilDependency)
	}
	return &TaskService{
		tasks:     tasks,
		transport: transport,
		logger:    logger.With("component", "task_service"),
	}, nil
}

// CreateTask validates params, persists a pending task and enqueues it.
//
// A failed enqueue is not an error: the task is already durable and the
// backup poller delivers it later.
func (s *TaskService) CreateTask(
	ctx context.Context,
	userID uuid.UUID,
	taskType domain.TaskType,
	params json.RawMessage,
) (domain.TaskView, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := domain.DecodeParams(taskType, params); err != nil {
		return domain.TaskView{}, err
	}

	t, err := domain.NewTask(userID, taskType, params)
	if err != nil {
		return domain.TaskView{}, err
	}

	if err := s.tasks.Create(ctx, t); err != nil {
		return domain.TaskView{}, fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.transport.Push(ctx, t.ID); err != nil {
		log.WarnContext(ctx, "task enqueue failed, leaving it to the backup poller",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
	} else {
		log.InfoContext(ctx, "task created",
			"task_id", t.ID,
			"task_type", t.Type,
			"user_id", userID)
	}

	return t.View(), nil
}

// GetTask returns the task if the caller may see it.
func (s *TaskService) GetTask(ctx context.Context, caller Caller, id uuid.UUID) (domain.TaskView, error) {
	t, err := s.load(ctx, caller, id)
	if err != nil {
		return domain.TaskView{}, err
	}
	return t.View(), nil
}

// ListTasks returns one page of the caller's tasks, newest first.
func (s *TaskService) ListTasks(ctx context.Context, userID uuid.UUID, page store.Page) (TaskPage, error) {
	page = page.Normalize()

	tasks, total, err := s.tasks.ListByOwner(ctx, userID, page)
	if err != nil {
		return TaskPage{}, fmt.Errorf("failed to list tasks: %w", err)
	}

	views := make([]domain.TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.View())
	}

	return TaskPage{Tasks: views, Total: total, Page: page.Number, PageSize: page.Size}, nil
}

// DeleteTask removes the task if the caller may see it. A task that is being
// processed may still finish; its final write then fails with not found and
// is dropped by the executor.
func (s *TaskService) DeleteTask(ctx context.Context, caller Caller, id uuid.UUID) error {
	if _, err := s.load(ctx, caller, id); err != nil {
		return err
	}
	if err := s.tasks.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).InfoContext(ctx, "task deleted", "task_id", id)
	return nil
}

func (s *TaskService) load(ctx context.Context, caller Caller, id uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(t.UserID) {
		return nil, domain.ErrForbidden
	}
	return t, nil
}
