package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of asynchronous AI work a task performs.
type TaskType string

// Supported task types
const (
	TaskTypeGenerateContent  TaskType = "generate-content"
	TaskTypeBatchGenerate    TaskType = "batch-generate"
	TaskTypeAnalyze          TaskType = "analyze"
	TaskTypeWritingAssistant TaskType = "writing-assistant"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID     = errors.New("task ID cannot be empty")
	ErrEmptyTaskUserID = errors.New("task user ID cannot be empty")
	ErrInvalidStatus   = errors.New("invalid task status")
)

// IsTerminal reports whether no further status/result/error writes are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsValid reports whether t is one of the supported task types.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeGenerateContent, TaskTypeBatchGenerate, TaskTypeAnalyze, TaskTypeWritingAssistant:
		return true
	}
	return false
}

// Task is a durable record of one unit of asynchronous AI work.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Type        TaskType        `json:"type"`
	Params      json.RawMessage `json:"params"`
	Status      TaskStatus      `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TaskUpdate carries the optional fields written together with a status change.
type TaskUpdate struct {
	Progress *int
	Result   json.RawMessage
	Error    string
}

// NewTask creates a pending task with progress 0.
// The type must be supported; params are stored as given.
func NewTask(userID uuid.UUID, taskType TaskType, params json.RawMessage) (*Task, error) {
	if !taskType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTaskType, taskType)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      taskType,
		Params:    params,
		Status:    TaskStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTaskType, t.Type)
	}

	if !t.Status.IsValid() {
		return ErrInvalidStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// Apply moves the task to status and writes the fields of update.
//
// Allowed transitions are pending->processing, pending->failed,
// processing->processing (progress), processing->completed and
// processing->failed. Terminal tasks reject every write with
// ErrInvalidTransition. Progress never moves backwards: a lower value than the
// current one is ignored.
func (t *Task) Apply(status TaskStatus, update TaskUpdate, now time.Time) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}

	if err := CheckTransition(t.Status, status); err != nil {
		return err
	}

	if update.Progress != nil {
		p := *update.Progress
		if p < 0 || p > 100 {
			return ErrInvalidProgress
		}
		if status != TaskStatusProcessing {
			return fmt.Errorf("%w: progress can only be written while processing", ErrInvalidProgress)
		}
		if p > t.Progress {
			t.Progress = p
		}
	}

	now = now.UTC()

	switch status {
	case TaskStatusProcessing:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case TaskStatusCompleted:
		t.Result = update.Result
		if len(t.Result) == 0 {
			t.Result = json.RawMessage("{}")
		}
		t.Error = ""
		t.Progress = 100
		completed := now
		t.CompletedAt = &completed
	case TaskStatusFailed:
		t.Error = update.Error
		if t.Error == "" {
			t.Error = "unknown error"
		}
		t.Result = nil
		completed := now
		t.CompletedAt = &completed
	}

	t.Status = status
	t.UpdatedAt = now
	return nil
}

// Claim moves a pending task to processing with the given progress. Any other
// status returns ErrAlreadyClaimed, so of several workers holding the same
// task only the first claim wins.
func (t *Task) Claim(progress int, now time.Time) error {
	if t.Status != TaskStatusPending {
		return fmt.Errorf("%w (status %s)", ErrAlreadyClaimed, t.Status)
	}
	return t.Apply(TaskStatusProcessing, TaskUpdate{Progress: &progress}, now)
}

// CheckTransition returns ErrInvalidTransition when from -> to is not allowed.
func CheckTransition(from, to TaskStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: task already %s", ErrInvalidTransition, from)
	}

	switch from {
	case TaskStatusPending:
		if to == TaskStatusProcessing || to == TaskStatusFailed {
			return nil
		}
	case TaskStatusProcessing:
		if to == TaskStatusProcessing || to == TaskStatusCompleted || to == TaskStatusFailed {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsOwnedBy reports whether userID owns the task.
func (t *Task) IsOwnedBy(userID uuid.UUID) bool {
	return t.UserID == userID
}

// TaskView is the read-only projection of a task exposed to callers.
type TaskView struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Type        TaskType        `json:"type"`
	Status      TaskStatus      `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// View returns the caller-facing projection of the task.
func (t *Task) View() TaskView {
	return TaskView{
		ID:          t.ID,
		UserID:      t.UserID,
		Type:        t.Type,
		Status:      t.Status,
		Progress:    t.Progress,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}
