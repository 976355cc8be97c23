package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "wallet:events:"

// Channel is the pub/sub channel carrying events for one account.
func Channel(accountID string) string {
	return channelPrefix + accountID
}

// RedisNotifier publishes messages on per-account Redis channels so that any
// API instance can stream them to connected clients.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier constructs a pub/sub notifier.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Send publishes the message as JSON on the destination account's channel.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(message.Destination), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe streams the events of one account until ctx is cancelled. The
// returned channel is closed when the subscription ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, accountID string) (<-chan Message, error) {
	pubsub := n.client.Subscribe(ctx, Channel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer pubsub.Close() // nolint:errcheck

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					n.logger.Warn("dropping malformed event", "channel", raw.Channel, "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
