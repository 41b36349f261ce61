package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/campuspark/coordinator/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisFeed publishes change events to a Redis pub/sub channel so multiple
// coordinator processes share one feed. Redis pub/sub gives at-least-once,
// per-publisher-ordered delivery, which is all the feed contract needs.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

// NewRedisFeed constructs a RedisFeed on the given channel.
func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	return &RedisFeed{client: client, channel: channel}
}

// Publish implements Feed.
func (f *RedisFeed) Publish(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe implements Feed. The returned cancel function closes the Redis
// subscription, which in turn closes the event channel.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, func()) {
	sub := f.client.Subscribe(ctx, f.channel)
	out := make(chan model.ChangeEvent, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("feed: failed to parse event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel
}
