package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// TaskStore holds tasks in memory.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	now   func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		now:   time.Now,
	}
}

// Create stores a copy of task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// UpdateStatus applies the transition under the store lock.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	update domain.TaskUpdate,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	// Apply on a copy so a rejected write leaves the stored task untouched.
	next := cloneTask(t)
	if err := next.Apply(status, update, s.now()); err != nil {
		return err
	}
	s.tasks[id] = next
	return nil
}

// Claim moves a pending task to processing under the store lock.
func (s *TaskStore) Claim(ctx context.Context, id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}

	next := cloneTask(t)
	if err := next.Claim(progress, s.now()); err != nil {
		return err
	}
	s.tasks[id] = next
	return nil
}

// ListByOwner returns one page of the user's tasks, newest first.
func (s *TaskStore) ListByOwner(ctx context.Context, userID uuid.UUID, page store.Page) ([]*domain.Task, int, error) {
	page = page.Normalize()

	s.mu.Lock()
	owned := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.UserID == userID {
			owned = append(owned, cloneTask(t))
		}
	}
	s.mu.Unlock()

	slices.SortFunc(owned, func(a, b *domain.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(owned)
	start := min(page.Offset(), total)
	end := min(start+page.Size, total)
	return owned[start:end], total, nil
}

// Delete removes the task.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// ListPending returns pending tasks created before olderThan, oldest first.
func (s *TaskStore) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error) {
	return s.listByStatus(domain.TaskStatusPending, olderThan, limit, func(t *domain.Task) time.Time {
		return t.CreatedAt
	}), nil
}

// ListProcessing returns processing tasks last updated before olderThan.
func (s *TaskStore) ListProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Task, error) {
	return s.listByStatus(domain.TaskStatusProcessing, olderThan, limit, func(t *domain.Task) time.Time {
		return t.UpdatedAt
	}), nil
}

func (s *TaskStore) listByStatus(
	status domain.TaskStatus,
	olderThan time.Time,
	limit int,
	stamp func(*domain.Task) time.Time,
) []*domain.Task {
	s.mu.Lock()
	var matched []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status && stamp(t).Before(olderThan) {
			matched = append(matched, cloneTask(t))
		}
	}
	s.mu.Unlock()

	slices.SortFunc(matched, func(a, b *domain.Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Params = slices.Clone(t.Params)
	c.Result = slices.Clone(t.Result)
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}
