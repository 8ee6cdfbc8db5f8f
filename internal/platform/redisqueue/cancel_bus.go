package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// cancelMessage is the pub/sub payload.
type cancelMessage struct {
	SessionID  string    `json:"session_id"`
	UserID     uuid.UUID `json:"user_id"`
	InstanceID string    `json:"instance_id"`
}

// CancelBus broadcasts stream cancellations to every instance.
type CancelBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewCancelBus creates a bus on channel.
func NewCancelBus(client *redis.Client, channel string, logger *slog.Logger) (*CancelBus, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if channel == "" {
		return nil, errors.New("cancel channel cannot be empty")
	}

	instanceID := uuid.NewString()
	return &CancelBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger.With("component", "cancel_bus", "instance_id", instanceID),
	}, nil
}

// Publish announces that sessionID should be cancelled on behalf of userID.
// uuid.Nil means any owner.
func (b *CancelBus) Publish(ctx context.Context, sessionID string, userID uuid.UUID) error {
	data, err := json.Marshal(cancelMessage{SessionID: sessionID, UserID: userID, InstanceID: b.instanceID})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish cancellation: %w", err)
	}
	return nil
}

// Listen subscribes and calls onCancel for every cancellation published by
// another instance. It returns once the subscription is confirmed.
func (b *CancelBus) Listen(ctx context.Context, onCancel func(sessionID string, userID uuid.UUID)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return errors.New("cancel bus already listening")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})
	go b.consume(pubsub.Channel(), onCancel, b.done)

	b.logger.InfoContext(ctx, "listening for stream cancellations", "channel", b.channel)
	return nil
}

func (b *CancelBus) consume(ch <-chan *redis.Message, onCancel func(string, uuid.UUID), done chan struct{}) {
	defer close(done)

	for msg := range ch {
		var m cancelMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			b.logger.Warn("ignoring malformed cancel message", "error", err)
			continue
		}
		if m.InstanceID == b.instanceID || m.SessionID == "" {
			continue
		}
		onCancel(m.SessionID, m.UserID)
	}
}

// Close unsubscribes and waits for the listener to exit.
func (b *CancelBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
