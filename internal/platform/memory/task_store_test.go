package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progress(v int) *int { return &v }

func createTask(t *testing.T, s *TaskStore, userID uuid.UUID, createdAt time.Time) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(userID, domain.TaskTypeAnalyze, json.RawMessage(`{"content":"x"}`))
	require.NoError(t, err)
	task.CreatedAt = createdAt
	task.UpdatedAt = createdAt
	require.NoError(t, s.Create(context.Background(), task))
	return task
}

func TestTaskStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	task := createTask(t, s, uuid.New(), time.Now())

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)

	got.Status = domain.TaskStatusFailed
	again, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, again.Status, "returned tasks are copies")

	assert.ErrorIs(t, s.Create(ctx, task), store.ErrDuplicate)

	require.NoError(t, s.Delete(ctx, task.ID))
	_, err = s.Get(ctx, task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.ErrorIs(t, s.Delete(ctx, task.ID), store.ErrNotFound)
}

func TestTaskStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	task := createTask(t, s, uuid.New(), time.Now())

	require.NoError(t, s.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskUpdate{Progress: progress(40)}))
	require.NoError(t, s.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskUpdate{Progress: progress(20)}))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, s.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted, domain.TaskUpdate{Result: json.RawMessage(`{"analysis":"ok"}`)}))

	err = s.UpdateStatus(ctx, task.ID, domain.TaskStatusFailed, domain.TaskUpdate{Error: "late"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err = s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.Error)

	assert.ErrorIs(t, s.UpdateStatus(ctx, uuid.New(), domain.TaskStatusProcessing, domain.TaskUpdate{}), store.ErrTaskNotFound)
}

func TestTaskStore_ConcurrentTerminalWrites(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	task := createTask(t, s, uuid.New(), time.Now())
	require.NoError(t, s.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskUpdate{}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := domain.TaskStatusCompleted
			if i%2 == 0 {
				status = domain.TaskStatusFailed
			}
			if err := s.UpdateStatus(ctx, task.ID, status, domain.TaskUpdate{Error: "x"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one terminal write wins")
}

func TestTaskStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	task := createTask(t, s, uuid.New(), time.Now())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Claim(ctx, task.ID, 10)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
				return
			}
			mu.Lock()
			claimed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claimed, "exactly one claim wins")

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 10, got.Progress)
	assert.NotNil(t, got.StartedAt)

	assert.ErrorIs(t, s.Claim(ctx, uuid.New(), 10), store.ErrTaskNotFound)
}

func TestTaskStore_ListByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	owner := uuid.New()
	base := time.Now().Add(-time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, createTask(t, s, owner, base.Add(time.Duration(i)*time.Minute)).ID)
	}
	createTask(t, s, uuid.New(), base)

	first, total, err := s.ListByOwner(ctx, owner, store.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, first, 2)
	assert.Equal(t, ids[4], first[0].ID, "newest first")
	assert.Equal(t, ids[3], first[1].ID)

	last, _, err := s.ListByOwner(ctx, owner, store.Page{Number: 3, Size: 2})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, ids[0], last[0].ID)

	beyond, total, err := s.ListByOwner(ctx, owner, store.Page{Number: 9, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, beyond)
	assert.Equal(t, 5, total)
}

func TestTaskStore_ListPending(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	now := time.Now()

	old := createTask(t, s, uuid.New(), now.Add(-10*time.Minute))
	older := createTask(t, s, uuid.New(), now.Add(-20*time.Minute))
	createTask(t, s, uuid.New(), now)
	started := createTask(t, s, uuid.New(), now.Add(-30*time.Minute))
	require.NoError(t, s.UpdateStatus(ctx, started.ID, domain.TaskStatusProcessing, domain.TaskUpdate{}))

	pending, err := s.ListPending(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)
	assert.Equal(t, old.ID, pending[1].ID)

	limited, err := s.ListPending(ctx, now.Add(-time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
