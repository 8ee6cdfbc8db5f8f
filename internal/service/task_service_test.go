package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/platform/memory"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const titleParams = `{"type":"title","content":"Worker pools in Go"}`

func newTaskService(t *testing.T) (*TaskService, *memory.TaskStore, *task.MockTransport, *logger.TestLogBuffer) {
	t.Helper()
	log, logs := logger.GetTestLogger(t)
	tasks := memory.NewTaskStore()
	transport := &task.MockTransport{}
	svc, err := NewTaskService(tasks, transport, log)
	require.NoError(t, err)
	return svc, tasks, transport, logs
}

func TestTaskService_CreateTask(t *testing.T) {
	t.Parallel()

	svc, tasks, transport, _ := newTaskService(t)
	userID := uuid.New()

	view, err := svc.CreateTask(context.Background(), userID, domain.TaskTypeGenerateContent, json.RawMessage(titleParams))
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, view.Status)
	assert.Equal(t, userID, view.UserID)
	assert.Equal(t, []uuid.UUID{view.ID}, transport.Queued())

	stored, err := tasks.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.JSONEq(t, titleParams, string(stored.Params))
}

func TestTaskService_CreateTaskRejectsBadParams(t *testing.T) {
	t.Parallel()

	svc, _, transport, _ := newTaskService(t)

	_, err := svc.CreateTask(context.Background(), uuid.New(), domain.TaskTypeGenerateContent, json.RawMessage(`{"type":"poem"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidTaskParams)

	_, err = svc.CreateTask(context.Background(), uuid.New(), domain.TaskType("mystery"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnsupportedTaskType)

	assert.Empty(t, transport.Queued())
}

// The task is durable before it is queued, so a transport outage only delays it.
func TestTaskService_CreateTaskSurvivesPushFailure(t *testing.T) {
	t.Parallel()

	svc, tasks, transport, logs := newTaskService(t)
	transport.PushFn = func(context.Context, ...uuid.UUID) error { return errors.New("redis down") }

	view, err := svc.CreateTask(context.Background(), uuid.New(), domain.TaskTypeGenerateContent, json.RawMessage(titleParams))
	require.NoError(t, err)

	stored, err := tasks.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.True(t, logs.HasMessage("task enqueue failed, leaving it to the backup poller"))
}

func TestTaskService_GetAndDeleteEnforceOwnership(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTaskService(t)
	owner := uuid.New()
	view, err := svc.CreateTask(context.Background(), owner, domain.TaskTypeGenerateContent, json.RawMessage(titleParams))
	require.NoError(t, err)

	stranger := Caller{UserID: uuid.New()}
	_, err = svc.GetTask(context.Background(), stranger, view.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteTask(context.Background(), stranger, view.ID), domain.ErrForbidden)

	admin := Caller{UserID: uuid.New(), Admin: true}
	got, err := svc.GetTask(context.Background(), admin, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)

	require.NoError(t, svc.DeleteTask(context.Background(), Caller{UserID: owner}, view.ID))
	_, err = svc.GetTask(context.Background(), Caller{UserID: owner}, view.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskService_ListTasks(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTaskService(t)
	owner := uuid.New()
	for range 3 {
		_, err := svc.CreateTask(context.Background(), owner, domain.TaskTypeGenerateContent, json.RawMessage(titleParams))
		require.NoError(t, err)
	}
	_, err := svc.CreateTask(context.Background(), uuid.New(), domain.TaskTypeGenerateContent, json.RawMessage(titleParams))
	require.NoError(t, err)

	page, err := svc.ListTasks(context.Background(), owner, store.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Tasks, 2)
	assert.Equal(t, 2, page.PageSize)

	page, err = svc.ListTasks(context.Background(), owner, store.Page{Number: 0, Size: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, store.MaxPageSize, page.PageSize)
	assert.Len(t, page.Tasks, 3)
	for _, v := range page.Tasks {
		assert.Equal(t, owner, v.UserID)
	}
}

func TestNewTaskService_Validation(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	_, err := NewTaskService(nil, &task.MockTransport{}, log)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewTaskService(memory.NewTaskStore(), nil, log)
	assert.ErrorIs(t, err, ErrNilDependency)
}
