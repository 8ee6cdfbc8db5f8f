package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
)

// Page bounds used by ListByOwner.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// TaskStore is the source of truth for task state.
type TaskStore interface {
	// Create persists a new pending task.
	Create(ctx context.Context, task *domain.Task) error

	// Get returns the task or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateStatus applies a status change and its optional fields.
	// Returns ErrTaskNotFound for unknown tasks and domain.ErrInvalidTransition
	// when the task is terminal or the move is not allowed. Progress lower
	// than the stored value is ignored.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, update domain.TaskUpdate) error

	// Claim moves a pending task to processing with the given progress. It
	// succeeds for exactly one caller per task: a task that is no longer
	// pending yields domain.ErrAlreadyClaimed, an unknown one ErrTaskNotFound.
	Claim(ctx context.Context, id uuid.UUID, progress int) error

	// ListByOwner returns one page of the user's tasks, newest first, and the
	// total number of tasks the user owns.
	ListByOwner(ctx context.Context, userID uuid.UUID, page Page) ([]*domain.Task, int, error)

	// Delete removes the task. Returns ErrTaskNotFound for unknown tasks.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListPending returns up to limit pending tasks created before olderThan,
	// oldest first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error)

	// ListProcessing returns up to limit processing tasks last updated before
	// olderThan. Used only for stale-task reporting.
	ListProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error)
}
