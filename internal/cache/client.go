package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/nornir/internal/config"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/validation"
)

// clientName shows up in CLIENT LIST for every pooled connection.
const clientName = "nornir-prefs"

// NewRedisClient connects to the Redis server backing the preference store
// and blocks until it answers PING or the retries run out.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	validation.AssertNotNil(cfg, "cache: redis config")

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := pingWithBackoff(ctx, client, cfg.PingMaxRetries, cfg.PingBackoff); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// clientOptions takes the endpoint, credentials, DB and TLS from the URL when
// one is set and from the discrete fields otherwise. Pool tuning always comes
// from cfg.
func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	opts.ClientName = clientName
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.PoolTimeout = cfg.PoolTimeout
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff
	return opts, nil
}

// pingWithBackoff doubles the wait after every failed attempt.
func pingWithBackoff(ctx context.Context, client *redis.Client, attempts int, wait time.Duration) error {
	attempts = max(attempts, 1)
	log := logger.FromContext(ctx)

	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, wait+time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.Info("connected to redis", slog.String("addr", client.Options().Addr), slog.Int("attempt", i))
			return nil
		}

		log.Warn("redis ping failed",
			slog.Int("attempt", i),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis ping aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", attempts, err)
}
