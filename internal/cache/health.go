package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/nornir/internal/observability"
)

// NewHealthChecker reports "redis" as ready while the server answers PING.
func NewHealthChecker(client *redis.Client) observability.Checker {
	return observability.CheckFunc{
		Component: "redis",
		Fn: func(ctx context.Context) error {
			if client == nil {
				return errors.New("redis client not initialized")
			}
			return client.Ping(ctx).Err()
		},
	}
}
