// Package config loads nornir settings from NORNIR_* environment variables
// with envconfig and validates them with go-playground/validator plus
// per-section rules.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction turns on the stricter security checks.
	EnvironmentProduction = "production"

	EnvPrefix = "NORNIR"
)

// Config is the full process configuration, one field per NORNIR_<SECTION>_ prefix.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Engine        EngineConfig        `envconfig:"ENGINE"`
	Storage       StorageConfig       `envconfig:"STORAGE"`
	Prefs         PrefsConfig         `envconfig:"PREFS"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Syncer        SyncerConfig        `envconfig:"SYNCER"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig identifies the process and tunes its logging and shutdown.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"nornir"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig groups the HTTP listeners.
type ServerConfig struct {
	Control ControlConfig `envconfig:"CONTROL"`
}

// Load reads NORNIR_* environment variables and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate applies the struct tags first, then the cross-field rules of each
// section. Database and Redis settings are checked only when their driver is
// selected.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	env := c.App.Environment
	return firstError(
		c.Engine.Validate,
		c.Storage.Validate,
		func() error {
			if c.Storage.Driver != StorageDriverPostgres {
				return nil
			}
			return c.Database.Validate(env)
		},
		func() error {
			if c.Prefs.Driver != PrefsDriverRedis {
				return nil
			}
			return c.Redis.Validate(env)
		},
		func() error { return c.Server.Control.Validate(env) },
		c.Syncer.Validate,
		c.Observability.Validate,
	)
}

// LogConfig logs the non-secret settings.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("engine_id", c.Engine.ID),
		slog.String("storage_driver", c.Storage.Driver),
		slog.String("prefs_driver", c.Prefs.Driver),
		slog.String("control_port", c.Server.Control.Port),
		slog.Bool("tls_enabled", c.Server.Control.TLSEnabled),
		slog.Bool("syncer_enabled", c.Syncer.Enabled),
		slog.String("observability_port", c.Observability.Port),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
	)
}

// minSecretLen is the shortest password accepted in production.
const minSecretLen = 12

// firstError runs checks in order and stops at the first failure.
func firstError(checks ...func() error) error {
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func checkPort(component, port string) error {
	if port == "" {
		return fmt.Errorf("%s: port is empty", component)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s: port %q is not a number", component, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s: port %d is outside 1-65535", component, n)
	}
	return nil
}

// checkToken rejects empty values and values padded with whitespace.
func checkToken(component, field, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s: %s is empty", component, field)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s: %s has surrounding whitespace", component, field)
	}
	return nil
}

// checkSecret applies the production credential policy. Other environments
// accept any value, including none.
func checkSecret(component, secret, environment string) error {
	if environment != EnvironmentProduction {
		return nil
	}
	if secret == "" {
		return fmt.Errorf("%s: password is required in production", component)
	}
	if len(secret) < minSecretLen {
		return fmt.Errorf("%s: password must be at least %d characters in production", component, minSecretLen)
	}
	return nil
}

// parseEndpoint parses a connection URL and checks its scheme and host.
func parseEndpoint(component, raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed url: %w", component, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("%s: url scheme %q not in %v", component, u.Scheme, schemes)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s: url has no host", component)
	}
	return u, nil
}
