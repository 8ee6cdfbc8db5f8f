package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/store"
)

// TaskService is the task API the handler needs.
type TaskService interface {
	CreateTask(ctx context.Context, userID uuid.UUID, taskType domain.TaskType, params json.RawMessage) (domain.TaskView, error)
	GetTask(ctx context.Context, caller service.Caller, id uuid.UUID) (domain.TaskView, error)
	ListTasks(ctx context.Context, userID uuid.UUID, page store.Page) (service.TaskPage, error)
	DeleteTask(ctx context.Context, caller service.Caller, id uuid.UUID) error
}

// TaskHandler serves /api/tasks.
type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger.With("component", "task_handler")}
}

// Routes mounts the task endpoints on r.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/tasks", h.CreateTask)
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetTask)
	r.Delete("/tasks/{id}", h.DeleteTask)
}

// CreateTask handles POST /api/tasks. The task is accepted, not finished,
// so the response is 202 with the pending view.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	view, err := h.tasks.CreateTask(r.Context(), caller.UserID, req.Type, req.Params)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	w.Header().Set("Location", "/api/tasks/"+view.ID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, view)
}

// ListTasks handles GET /api/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	page, err := h.tasks.ListTasks(r.Context(), caller.UserID, pageFromQuery(r))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	if page.Tasks == nil {
		page.Tasks = []domain.TaskView{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, page)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := handleCallerAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.tasks.GetTask(r.Context(), caller, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// DeleteTask handles DELETE /api/tasks/{id}.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := handleCallerAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.tasks.DeleteTask(r.Context(), caller, id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
