package redisqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransport_FIFO(t *testing.T) {
	_, client := newTestClient(t)
	transport, err := NewTransport(client, "scribe:tasks", discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	require.NoError(t, transport.Push(ctx, ids...))

	n, err := transport.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	consumer, err := transport.NewConsumer()
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	for _, want := range ids {
		got, ok, err := consumer.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestTransport_PopTimeout(t *testing.T) {
	_, client := newTestClient(t)
	transport, err := NewTransport(client, "scribe:tasks", discardLogger())
	require.NoError(t, err)

	consumer, err := transport.NewConsumer()
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	// Sub-second timeouts are raised to one second.
	start := time.Now()
	_, ok, err := consumer.Pop(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestTransport_PopWakesOnPush(t *testing.T) {
	_, client := newTestClient(t)
	transport, err := NewTransport(client, "scribe:tasks", discardLogger())
	require.NoError(t, err)

	consumer, err := transport.NewConsumer()
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	id := uuid.New()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = transport.Push(context.Background(), id)
	}()

	got, ok, err := consumer.Pop(context.Background(), 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestTransport_MalformedEntry(t *testing.T) {
	mr, client := newTestClient(t)
	transport, err := NewTransport(client, "scribe:tasks", discardLogger())
	require.NoError(t, err)

	_, err = mr.Lpush("scribe:tasks", "not-a-uuid")
	require.NoError(t, err)

	consumer, err := transport.NewConsumer()
	require.NoError(t, err)
	defer func() { _ = consumer.Close() }()

	_, ok, err := consumer.Pop(context.Background(), time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, task.ErrInvalidEntry)
}

func TestTransport_PingFailsWhenServerDown(t *testing.T) {
	mr, client := newTestClient(t)
	transport, err := NewTransport(client, "scribe:tasks", discardLogger())
	require.NoError(t, err)

	require.NoError(t, transport.Ping(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, transport.Ping(ctx))
	assert.Error(t, transport.Push(ctx, uuid.New()))
}

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(nil, "k", discardLogger())
	assert.Error(t, err)

	_, client := newTestClient(t)
	_, err = NewTransport(client, "", discardLogger())
	assert.Error(t, err)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope")
	assert.Error(t, err)
}
