package docstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// ChangesChannel is the Redis pub/sub channel carrying changed paths.
const ChangesChannel = "docstore:changes"

// RedisFeed is a ChangeFeed over Redis pub/sub.
type RedisFeed struct {
	client  *goredis.Client
	channel string
}

func NewRedisFeed(client *goredis.Client) *RedisFeed {
	return &RedisFeed{client: client, channel: ChangesChannel}
}

func (f *RedisFeed) Publish(ctx context.Context, path string) error {
	if err := f.client.Publish(ctx, f.channel, path).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

func (f *RedisFeed) Listen(ctx context.Context, onChange func(path string)) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			onChange(msg.Payload)
		}
	}
}
