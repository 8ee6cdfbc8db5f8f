package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/platform/memory"
	"github.com/phrazzld/scribe/internal/quota"
	"github.com/stretchr/testify/require"
)

var testLimits = domain.QuotaLimits{DailyChat: 10, DailyGenerate: 10, MonthlyTokens: 1_000_000}

type testEnv struct {
	store    *memory.TaskStore
	quotas   *memory.QuotaStore
	tracker  *quota.Tracker
	provider *llm.MockProvider
	executor *Executor
	logs     *logger.TestLogBuffer
}

func newTestEnv(t *testing.T, limits domain.QuotaLimits) *testEnv {
	t.Helper()

	log, logs := logger.GetTestLogger(t)
	env := &testEnv{
		store:  memory.NewTaskStore(),
		quotas: memory.NewQuotaStore(),
		logs:   logs,
		provider: &llm.MockProvider{
			InvokeFn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
				return &llm.Response{Content: "Generated text"}, nil
			},
		},
	}

	var err error
	env.tracker, err = quota.NewTracker(env.quotas, limits, log)
	require.NoError(t, err)

	env.executor, err = NewExecutor(env.store, env.tracker, NewHandlers(env.provider), nil, log)
	require.NoError(t, err)

	return env
}

func (e *testEnv) createTask(t *testing.T, userID uuid.UUID, taskType domain.TaskType, params string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(userID, taskType, json.RawMessage(params))
	require.NoError(t, err)
	require.NoError(t, e.store.Create(context.Background(), task))
	return task
}

func (e *testEnv) get(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

// waitTerminal polls the store until the task is completed or failed.
func (e *testEnv) waitTerminal(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.Eventually(t, func() bool {
		task = e.get(t, id)
		return task.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

const titleParams = `{"type":"title","content":"Notes on running Go worker pools in production"}`
