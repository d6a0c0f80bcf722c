package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// StreamNotifier appends notifications to a Redis stream for the notification
// service to consume.
type StreamNotifier struct {
	rdb    *redis.Client
	stream string
}

// NewStreamNotifier creates a notifier writing to the configured stream.
func NewStreamNotifier(client *Client) *StreamNotifier {
	return &StreamNotifier{rdb: client.rdb, stream: client.cfg.NotifyStream}
}

// Notify appends one notification. The notification id is stored alongside so
// consumers can deduplicate redeliveries.
func (n *StreamNotifier) Notify(ctx context.Context, notif domain.Notification) error {
	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	err = n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"id":      notif.ID,
			"user_id": notif.UserID,
			"type":    string(notif.Type),
			"payload": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (n *StreamNotifier) Close() error { return nil }
