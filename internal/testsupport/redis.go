package testsupport

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rafaeljc/nornir/internal/cache"
	"github.com/rafaeljc/nornir/internal/config"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a Redis server and a client connected to it.
type RedisContainer struct {
	Container testcontainers.Container
	Client    *goredis.Client
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer runs Redis and connects through cache.NewRedisClient.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	ctr, err := redis.Run(ctx, redisImage)
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}

	endpoint, err := ctr.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("redis endpoint: %w", err)
	}
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("redis endpoint %q: %w", endpoint, err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       4,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, err
	}

	return &RedisContainer{Container: ctr, Client: client}, nil
}
