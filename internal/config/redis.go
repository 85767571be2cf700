package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxRedisDB is the highest logical database index of a default Redis server.
const maxRedisDB = 15

// RedisConfig holds the Redis settings used when the prefs driver is redis.
// URL, when set, replaces Host, Port, Password, DB and the TLS switch.
type RedisConfig struct {
	URL        string `envconfig:"URL"`
	Host       string `envconfig:"HOST"`
	Port       string `envconfig:"PORT"`
	Password   string `envconfig:"PASSWORD"`
	DB         int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address joins Host and Port. It ignores URL.
func (c *RedisConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the settings for the given environment.
func (c *RedisConfig) Validate(environment string) error {
	const component = "redis"

	var err error
	if c.URL != "" {
		err = c.validateURL()
	} else {
		err = firstError(
			func() error { return checkToken(component, "host", c.Host) },
			func() error { return checkPort(component, c.Port) },
			func() error { return checkSecret(component, c.Password, environment) },
			func() error {
				if environment == EnvironmentProduction && !c.TLSEnabled {
					return fmt.Errorf("%s: tls is required in production", component)
				}
				return nil
			},
		)
	}
	if err != nil {
		return err
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("%s: min idle conns %d exceeds pool size %d", component, c.MinIdleConns, c.PoolSize)
	}
	return nil
}

// IsConfigured reports whether enough settings are present to dial.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

func (c *RedisConfig) validateURL() error {
	u, err := parseEndpoint("redis", c.URL, "redis", "rediss")
	if err != nil {
		return err
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return nil
	}
	n, err := strconv.Atoi(db)
	if err != nil {
		return fmt.Errorf("redis: url database %q is not a number", db)
	}
	if n < 0 || n > maxRedisDB {
		return fmt.Errorf("redis: url database %d is outside 0-%d", n, maxRedisDB)
	}
	return nil
}
