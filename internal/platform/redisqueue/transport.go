package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/task"
	"github.com/redis/go-redis/v9"
)

// minPollTimeout is the smallest BRPOP timeout Redis accepts; zero would
// block forever.
const minPollTimeout = time.Second

// Transport is a task.Transport over one Redis list.
type Transport struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

var _ task.Transport = (*Transport)(nil)

// NewTransport creates a transport on the list at key.
func NewTransport(client *redis.Client, key string, logger *slog.Logger) (*Transport, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if key == "" {
		return nil, errors.New("queue key cannot be empty")
	}
	return &Transport{
		client: client,
		key:    key,
		logger: logger.With("component", "redis_transport", "queue_key", key),
	}, nil
}

// Push LPUSHes ids in order so BRPOP returns them first in, first out.
func (t *Transport) Push(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}

	if err := t.client.LPush(ctx, t.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push tasks: %w", err)
	}

	t.logger.DebugContext(ctx, "tasks enqueued", "count", len(ids))
	return nil
}

// Ping checks the server.
func (t *Transport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Len returns the queue length.
func (t *Transport) Len(ctx context.Context) (int64, error) {
	return t.client.LLen(ctx, t.key).Result()
}

// NewConsumer takes a dedicated connection from the pool. A blocking pop
// holds its connection for the whole timeout, so consumers never share one.
func (t *Transport) NewConsumer() (task.Consumer, error) {
	return &consumer{conn: t.client.Conn(), key: t.key, logger: t.logger}, nil
}

type consumer struct {
	conn   *redis.Conn
	key    string
	logger *slog.Logger
}

func (c *consumer) Pop(ctx context.Context, timeout time.Duration) (uuid.UUID, bool, error) {
	timeout = max(timeout, minPollTimeout)

	res, err := c.conn.BRPop(ctx, timeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return uuid.Nil, false, ctxErr
		}
		return uuid.Nil, false, fmt.Errorf("failed to pop task: %w", err)
	}

	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return uuid.Nil, false, fmt.Errorf("%w: unexpected reply %v", task.ErrInvalidEntry, res)
	}

	id, err := uuid.Parse(res[1])
	if err != nil {
		c.logger.WarnContext(ctx, "dropping malformed queue entry", "entry", res[1])
		return uuid.Nil, false, fmt.Errorf("%w: %q", task.ErrInvalidEntry, res[1])
	}
	return id, true, nil
}

func (c *consumer) Close() error {
	return c.conn.Close()
}
