package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publish sends payload to every subscriber of channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe subscribes to channel and waits for the confirmation so that
// messages published after it returns are not missed.
func (c *Client) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := c.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}
	return sub, nil
}

func presenceKey(key string) string {
	return "realtime:presence:" + key
}

// Track marks a realtime recipient as connected somewhere in the cluster.
// The mark expires after ttl unless refreshed.
func (c *Client) Track(ctx context.Context, key, instanceID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, presenceKey(key), instanceID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set presence failed: %w", err)
	}
	return nil
}

// Untrack clears the presence mark, but only if instanceID still owns it.
func (c *Client) Untrack(ctx context.Context, key, instanceID string) error {
	k := presenceKey(key)
	owner, err := c.rdb.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get presence failed: %w", err)
	}
	if owner != instanceID {
		return nil
	}
	if err := c.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del presence failed: %w", err)
	}
	return nil
}

// Present returns the instance holding the recipient's connection, if any.
func (c *Client) Present(ctx context.Context, key string) (string, bool, error) {
	owner, err := c.rdb.Get(ctx, presenceKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get presence failed: %w", err)
	}
	return owner, true, nil
}
