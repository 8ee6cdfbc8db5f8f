package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	capacity int
	ran      []uuid.UUID
}

func (r *fakeRunner) TryRun(id uuid.UUID) bool {
	if len(r.ran) >= r.capacity {
		return false
	}
	r.ran = append(r.ran, id)
	return true
}

func newTestPoller(t *testing.T, env *testEnv, transport Transport, runner DirectRunner) (*BackupPoller, *logger.TestLogBuffer) {
	t.Helper()
	log, logs := logger.GetTestLogger(t)
	p, err := NewBackupPoller(env.store, transport, runner, BackupPollerConfig{
		Interval:        time.Hour,
		PendingGrace:    time.Minute,
		StaleProcessing: 10 * time.Minute,
		BatchSize:       10,
	}, nil, log)
	require.NoError(t, err)
	return p, logs
}

func TestBackupPoller_RequeuesPendingPastGrace(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	transport := &MockTransport{}
	runner := &fakeRunner{capacity: 10}
	poller, _ := newTestPoller(t, env, transport, runner)

	orphan := env.createTask(t, uuid.New(), domain.TaskTypeGenerateContent, titleParams)
	done := env.createTask(t, uuid.New(), domain.TaskTypeGenerateContent, titleParams)
	env.executor.Execute(context.Background(), done.ID, 0)

	poller.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	report, err := poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found, "tasks inside the grace period are left alone")

	poller.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	report, err = poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, []uuid.UUID{orphan.ID}, transport.Queued())
	assert.Empty(t, runner.ran)
}

func TestBackupPoller_DirectModeWhenTransportDown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	transport := &MockTransport{
		PingFn: func(ctx context.Context) error { return errors.New("connection refused") },
	}
	runner := &fakeRunner{capacity: 2}
	poller, _ := newTestPoller(t, env, transport, runner)

	for i := 0; i < 3; i++ {
		env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	}

	poller.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Found)
	assert.Equal(t, 0, report.Requeued)
	assert.Equal(t, 2, report.RunDirect)
	assert.Equal(t, 1, report.Skipped, "direct mode never exceeds free capacity")
	assert.Len(t, runner.ran, 2)
}

func TestBackupPoller_PushFailureFallsBackToDirect(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	transport := &MockTransport{
		PushFn: func(ctx context.Context, ids ...uuid.UUID) error { return errors.New("READONLY") },
	}
	runner := &fakeRunner{capacity: 5}
	poller, _ := newTestPoller(t, env, transport, runner)

	task := env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	poller.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RunDirect)
	assert.Equal(t, []uuid.UUID{task.ID}, runner.ran)
}

func TestBackupPoller_ReportsStaleProcessingWithoutReset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	poller, logs := newTestPoller(t, env, &MockTransport{}, &fakeRunner{capacity: 1})

	task := env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	progress := 40
	require.NoError(t, env.store.UpdateStatus(context.Background(), task.ID, domain.TaskStatusProcessing, domain.TaskUpdate{Progress: &progress}))

	poller.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := poller.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 0, report.Found)
	assert.Equal(t, domain.TaskStatusProcessing, env.get(t, task.ID).Status)
	assert.True(t, logs.HasMessage("task stuck in processing"))
}

func TestBackupPoller_AtLeastOnceAfterTransportLoss(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)

	// The push that follows creation is lost and the transport goes down.
	transport := NewChannelTransport(10, log)
	transport.Close()

	pool := startPool(t, &MockTransport{}, env.executor, 2)
	poller, _ := newTestPoller(t, env, transport, pool)

	task := env.createTask(t, uuid.New(), domain.TaskTypeGenerateContent, titleParams)
	require.ErrorIs(t, transport.Push(context.Background(), task.ID), ErrTransportClosed)

	poller.now = func() time.Time { return time.Now().Add(time.Hour) }
	report, err := poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RunDirect)

	got := env.waitTerminal(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestBackupPoller_StartRunsImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	transport := &MockTransport{}
	poller, _ := newTestPoller(t, env, transport, &fakeRunner{})

	task := env.createTask(t, uuid.New(), domain.TaskTypeAnalyze, `{"content":"x"}`)
	poller.now = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, poller.Start(context.Background()))
	assert.Error(t, poller.Start(context.Background()))
	t.Cleanup(func() { _ = poller.Stop() })

	require.Eventually(t, func() bool {
		queued := transport.Queued()
		return len(queued) == 1 && queued[0] == task.ID
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, poller.Stop())
	require.NoError(t, poller.Stop())
}

func TestNewBackupPoller_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testLimits)
	log, _ := logger.GetTestLogger(t)

	_, err := NewBackupPoller(nil, &MockTransport{}, &fakeRunner{}, BackupPollerConfig{}, nil, log)
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = NewBackupPoller(env.store, nil, &fakeRunner{}, BackupPollerConfig{}, nil, log)
	assert.Error(t, err)

	p, err := NewBackupPoller(env.store, &MockTransport{}, &fakeRunner{}, BackupPollerConfig{}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, p.config.Interval)
	assert.Equal(t, 20, p.config.BatchSize)
}
