package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/llm"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/platform/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_CompletesGenerateContent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	userID := uuid.New()
	task := env.createTask(t, userID, domain.TaskTypeGenerateContent, titleParams)

	env.executor.Execute(context.Background(), task.ID, 0)

	got := env.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.Error)

	var result GenerateContentResult
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, domain.ContentKindTitle, result.Type)
	assert.NotEmpty(t, result.Content)

	generate, err := env.tracker.CheckGenerateQuota(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), generate.Used)

	tokens, err := env.tracker.CheckTokenQuota(context.Background(), userID)
	require.NoError(t, err)
	assert.Positive(t, tokens.Used)

	reqs := env.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "Go worker pools")
}

func TestExecutor_QuotaExhaustedSkipsProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, domain.QuotaLimits{DailyChat: 10, DailyGenerate: 1, MonthlyTokens: 1_000_000})
	userID := uuid.New()
	first := env.createTask(t, userID, domain.TaskTypeGenerateContent, titleParams)
	second := env.createTask(t, userID, domain.TaskTypeGenerateContent, titleParams)

	env.executor.Execute(context.Background(), first.ID, 0)
	env.executor.Execute(context.Background(), second.ID, 0)

	assert.Equal(t, domain.TaskStatusCompleted, env.get(t, first.ID).Status)

	got := env.get(t, second.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "quota exceeded")
	assert.Nil(t, got.Result)
	assert.Equal(t, 1, env.provider.Calls(), "provider is never invoked for the over-quota task")
}

func TestExecutor_HandlerErrorFailsTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	env.provider.InvokeFn = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, errors.New("provider unavailable")
	}
	userID := uuid.New()
	task := env.createTask(t, userID, domain.TaskTypeWritingAssistant, `{"action":"shorten","text":"long text"}`)

	env.executor.Execute(context.Background(), task.ID, 0)

	got := env.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "provider unavailable", got.Error)
	assert.Equal(t, startProgress, got.Progress)

	avail, err := env.tracker.CheckGenerateQuota(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), avail.Used, "usage is only counted on success")
}

func TestExecutor_UnsupportedTypeFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)
	executor, err := NewExecutor(env.store, env.tracker, map[domain.TaskType]Handler{
		domain.TaskTypeAnalyze: NewHandlers(env.provider)[domain.TaskTypeAnalyze],
	}, nil, log)
	require.NoError(t, err)

	task := env.createTask(t, uuid.New(), domain.TaskTypeWritingAssistant, `{"action":"improve","text":"x"}`)
	executor.Execute(context.Background(), task.ID, 0)

	got := env.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "unsupported task type")
	assert.Nil(t, got.StartedAt, "unsupported tasks fail straight from pending")
}

func TestExecutor_RecoversFromHandlerPanic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)
	executor, err := NewExecutor(env.store, env.tracker, map[domain.TaskType]Handler{
		domain.TaskTypeAnalyze: HandlerFunc(func(context.Context, *domain.Task, ProgressFunc) (Outcome, error) {
			panic("nil map write")
		}),
	}, nil, log)
	require.NoError(t, err)

	task := env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	assert.NotPanics(t, func() {
		executor.Execute(context.Background(), task.ID, 0)
	})

	got := env.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "panicked")
}

func TestExecutor_SkipsTasksThatAreNotPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	task := env.createTask(t, uuid.New(), domain.TaskTypeGenerateContent, titleParams)
	env.executor.Execute(context.Background(), task.ID, 0)
	require.Equal(t, 1, env.provider.Calls())

	env.executor.Execute(context.Background(), task.ID, 1)
	assert.Equal(t, 1, env.provider.Calls(), "redelivery of a finished task is a no-op")
	assert.Equal(t, domain.TaskStatusCompleted, env.get(t, task.ID).Status)

	env.executor.Execute(context.Background(), uuid.New(), 0)
	assert.True(t, env.logs.HasMessage("task not found, dropping queue entry"))
}

func TestExecutor_ProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)

	var (
		mu   sync.Mutex
		seen []int
	)
	executor, err := NewExecutor(env.store, env.tracker, map[domain.TaskType]Handler{
		domain.TaskTypeAnalyze: HandlerFunc(func(ctx context.Context, task *domain.Task, progress ProgressFunc) (Outcome, error) {
			for _, p := range []int{50, 20, 70, 150} {
				progress(p)
				current, err := env.store.Get(ctx, task.ID)
				require.NoError(t, err)
				mu.Lock()
				seen = append(seen, current.Progress)
				mu.Unlock()
			}
			return Outcome{Result: map[string]string{"ok": "yes"}}, nil
		}),
	}, nil, log)
	require.NoError(t, err)

	task := env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	executor.Execute(context.Background(), task.ID, 0)

	assert.Equal(t, []int{50, 50, 70, 100}, seen)
	assert.Equal(t, domain.TaskStatusCompleted, env.get(t, task.ID).Status)
}

func TestNewExecutor_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)
	handlers := NewHandlers(env.provider)

	_, err := NewExecutor(nil, env.tracker, handlers, nil, log)
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = NewExecutor(env.store, nil, handlers, nil, log)
	assert.ErrorIs(t, err, ErrNilQuota)
	_, err = NewExecutor(env.store, env.tracker, nil, nil, log)
	assert.ErrorIs(t, err, ErrNoHandlers)
	_, err = NewExecutor(env.store, env.tracker, handlers, nil, nil)
	assert.ErrorIs(t, err, ErrNilLogger)
}

// lockstepStore holds every Get until parties callers have read the task, so
// concurrent executors all observe it as pending before any of them writes.
type lockstepStore struct {
	*memory.TaskStore
	reads sync.WaitGroup
}

func newLockstepStore(inner *memory.TaskStore, parties int) *lockstepStore {
	s := &lockstepStore{TaskStore: inner}
	s.reads.Add(parties)
	return s
}

func (s *lockstepStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.TaskStore.Get(ctx, id)
	s.reads.Done()
	s.reads.Wait()
	return task, err
}

func TestExecutor_ConcurrentWorkersRunTaskOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	userID := uuid.New()
	task := env.createTask(t, userID, domain.TaskTypeGenerateContent, titleParams)

	shared := newLockstepStore(env.store, 2)
	log, _ := logger.GetTestLogger(t)

	var wg sync.WaitGroup
	for worker := range 2 {
		executor, err := NewExecutor(shared, env.tracker, NewHandlers(env.provider), nil, log)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Execute(context.Background(), task.ID, worker)
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.TaskStatusCompleted, env.get(t, task.ID).Status)
	assert.Equal(t, 1, env.provider.Calls(), "only the worker that claimed the task calls the provider")

	generate, err := env.tracker.CheckGenerateQuota(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), generate.Used)
}
