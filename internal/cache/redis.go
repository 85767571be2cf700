// Package cache provides the Redis access layer and the in-memory L1 cache
// backing the shared preference store. It handles key namespacing, change
// notifications over Pub/Sub, and connection management.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/nornir/internal/validation"
)

const (
	// KeyPrefix is the namespace used for the preference hashes.
	// Example: "prefs:user", "prefs:default"
	KeyPrefix = "prefs"

	// ChangesChannel is the Pub/Sub channel carrying preference change events.
	ChangesChannel = "prefs:changed"
)

// Service defines the interface for preference storage operations in Redis.
// This interface allows for dependency injection and mocking in tests.
type Service interface {
	// GetPref returns the encoded value of name on branch and whether it exists.
	GetPref(ctx context.Context, branch, name string) (string, bool, error)

	// SetPref stores the encoded value of name on branch.
	SetPref(ctx context.Context, branch, name, encoded string) error

	// DeletePref removes name from branch.
	DeletePref(ctx context.Context, branch, name string) error

	// PublishChange broadcasts a change event to every subscriber.
	PublishChange(ctx context.Context, payload string) error

	// SubscribeChanges streams change events until ctx is cancelled.
	SubscribeChanges(ctx context.Context) (<-chan string, error)

	// HealthCheck pings the redis server to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check to verify that RedisCache implements Service.
var _ Service = (*RedisCache)(nil)

// RedisCache implements Service using the go-redis library.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an initialized Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	validation.AssertNotNil(client, "cache: redis client")
	return &RedisCache{client: client}
}

// branchKey builds the hash key holding every preference of a branch.
func branchKey(branch string) string {
	return fmt.Sprintf("%s:%s", KeyPrefix, branch)
}

// GetPref reads a single field of the branch hash (HGET).
func (c *RedisCache) GetPref(ctx context.Context, branch, name string) (string, bool, error) {
	val, err := c.client.HGet(ctx, branchKey(branch), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get pref %q from cache: %w", name, err)
	}
	return val, true, nil
}

// SetPref writes a single field of the branch hash (HSET).
func (c *RedisCache) SetPref(ctx context.Context, branch, name, encoded string) error {
	if err := c.client.HSet(ctx, branchKey(branch), name, encoded).Err(); err != nil {
		return fmt.Errorf("failed to set pref %q in cache: %w", name, err)
	}
	return nil
}

// DeletePref removes a single field of the branch hash (HDEL).
func (c *RedisCache) DeletePref(ctx context.Context, branch, name string) error {
	if err := c.client.HDel(ctx, branchKey(branch), name).Err(); err != nil {
		return fmt.Errorf("failed to delete pref %q from cache: %w", name, err)
	}
	return nil
}

// PublishChange sends payload on ChangesChannel.
func (c *RedisCache) PublishChange(ctx context.Context, payload string) error {
	if err := c.client.Publish(ctx, ChangesChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish pref change: %w", err)
	}
	return nil
}

// SubscribeChanges subscribes to ChangesChannel. The returned channel is
// closed when ctx is cancelled or the subscription breaks.
func (c *RedisCache) SubscribeChanges(ctx context.Context) (<-chan string, error) {
	pubsub := c.client.Subscribe(ctx, ChangesChannel)

	// Wait for the subscription confirmation so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ChangesChannel, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// HealthCheck verifies the connection to the Redis server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
