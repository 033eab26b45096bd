package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"gitlab.com/timkado/api/course-data-layer/internal/domain"
	"gitlab.com/timkado/api/course-data-layer/pkg/safego"
)

// SessionSignalPubSubAdapter implements domain.SessionBroadcaster over a Redis
// pub/sub channel shared by every process of one namespace.
type SessionSignalPubSubAdapter struct {
	redisClient *redis.Client
	channel     string
	logger      domain.Logger

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewSessionSignalPubSubAdapter creates a new adapter for Redis pub/sub.
func NewSessionSignalPubSubAdapter(redisClient *redis.Client, channel string, logger domain.Logger) *SessionSignalPubSubAdapter {
	return &SessionSignalPubSubAdapter{
		redisClient: redisClient,
		channel:     channel,
		logger:      logger,
	}
}

var _ domain.SessionBroadcaster = (*SessionSignalPubSubAdapter)(nil)

// Publish sends a signal to the channel.
func (a *SessionSignalPubSubAdapter) Publish(ctx context.Context, signal domain.SessionSignal) error {
	payloadBytes, err := json.Marshal(signal)
	if err != nil {
		a.logger.Error(ctx, "Failed to marshal SessionSignal for publishing", "channel", a.channel, "error", err.Error())
		return fmt.Errorf("failed to marshal SessionSignal: %w", err)
	}

	if err = a.redisClient.Publish(ctx, a.channel, string(payloadBytes)).Err(); err != nil {
		a.logger.Error(ctx, "Failed to publish session signal to Redis", "channel", a.channel, "error", err.Error())
		return fmt.Errorf("failed to publish to Redis channel '%s': %w", a.channel, err)
	}
	a.logger.Debug(ctx, "Published session signal", "channel", a.channel, "kind", string(signal.Kind))
	return nil
}

// Subscribe confirms the subscription and then dispatches messages to handler
// from a background goroutine until Close is called.
func (a *SessionSignalPubSubAdapter) Subscribe(ctx context.Context, handler domain.SessionSignalHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub != nil {
		return errors.New("already subscribed on this adapter instance")
	}

	sub := a.redisClient.Subscribe(ctx, a.channel)
	if _, err := sub.Receive(ctx); err != nil {
		a.logger.Error(ctx, "Failed to confirm Redis subscribe", "channel", a.channel, "error", err.Error())
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to channel '%s': %w", a.channel, err)
	}
	a.sub = sub
	a.logger.Info(ctx, "Subscribed to session signal channel", "channel", a.channel)

	ch := sub.Channel()
	safego.Execute(ctx, a.logger, "SessionSignalRedisSubscriber", func() {
		for msg := range ch {
			var signal domain.SessionSignal
			if errUnmarshal := json.Unmarshal([]byte(msg.Payload), &signal); errUnmarshal != nil {
				a.logger.Error(ctx, "Failed to unmarshal SessionSignal from pub/sub",
					"channel", msg.Channel,
					"payload", msg.Payload,
					"error", errUnmarshal.Error(),
				)
				continue
			}
			if errHandler := handler(ctx, signal); errHandler != nil {
				a.logger.Error(ctx, "Error in SessionSignalHandler",
					"channel", msg.Channel,
					"kind", string(signal.Kind),
					"error", errHandler.Error(),
				)
			}
		}
		a.logger.Info(ctx, "Subscription goroutine ended for channel", "channel", a.channel)
	})

	return nil
}

// Close closes the Redis subscription, if any.
func (a *SessionSignalPubSubAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return nil
	}
	err := a.sub.Close()
	a.sub = nil
	if err != nil {
		a.logger.Error(context.Background(), "Error closing Redis pub/sub subscription", "error", err.Error())
		return fmt.Errorf("error closing Redis pub/sub: %w", err)
	}
	a.logger.Info(context.Background(), "Redis pub/sub subscription closed.")
	return nil
}
