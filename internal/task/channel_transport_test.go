package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelTransport_PushPop(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	q := NewChannelTransport(2, log)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Push(ctx, first, second))
	assert.Equal(t, 2, q.Len())

	err := q.Push(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrQueueFull)

	c, err := q.NewConsumer()
	require.NoError(t, err)

	id, ok, err := c.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, id, "FIFO order")

	id, ok, err = c.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, id)
}

func TestChannelTransport_PopTimeoutIsNotAnError(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	c, err := NewChannelTransport(1, log).NewConsumer()
	require.NoError(t, err)

	start := time.Now()
	_, ok, err := c.Pop(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestChannelTransport_Close(t *testing.T) {
	t.Parallel()

	log, _ := logger.GetTestLogger(t)
	q := NewChannelTransport(1, log)
	c, err := q.NewConsumer()
	require.NoError(t, err)

	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(context.Background(), uuid.New()), ErrTransportClosed)
	assert.ErrorIs(t, q.Ping(context.Background()), ErrTransportClosed)
	_, _, err = c.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrTransportClosed)
	_, err = q.NewConsumer()
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestClaimSet(t *testing.T) {
	t.Parallel()

	claims := NewClaimSet()
	id := uuid.New()

	assert.True(t, claims.TryClaim(id))
	assert.False(t, claims.TryClaim(id))
	assert.True(t, claims.Contains(id))
	assert.Equal(t, 1, claims.Len())

	claims.Release(id)
	assert.False(t, claims.Contains(id))
	assert.True(t, claims.TryClaim(id))
}
