package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// secureSSLModes are the sslmode values accepted in production.
var secureSSLModes = []string{"require", "verify-ca", "verify-full"}

// maxIdentifierLen is the PostgreSQL limit on identifier length.
const maxIdentifierLen = 63

// DatabaseConfig holds the PostgreSQL settings used when the storage driver
// is postgres. Either URL or the discrete Host/Port/Name/User fields are
// required; URL wins when both are present.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	// MonitorInterval is the pool statistics export period.
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"15s" validate:"gt=0"`
}

// ConnectionString returns URL verbatim, or a postgres:// URL assembled from
// the discrete fields with credentials escaped.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// Validate checks the settings for the given environment.
func (c *DatabaseConfig) Validate(environment string) error {
	const component = "database"

	var err error
	if c.URL != "" {
		err = c.validateURL()
	} else {
		err = firstError(
			func() error { return checkToken(component, "host", c.Host) },
			func() error { return checkPort(component, c.Port) },
			func() error { return checkToken(component, "name", c.Name) },
			func() error {
				if len(c.Name) > maxIdentifierLen {
					return fmt.Errorf("%s: name exceeds %d characters", component, maxIdentifierLen)
				}
				return nil
			},
			func() error { return checkToken(component, "user", c.User) },
			func() error { return checkSecret(component, c.Password, environment) },
			func() error {
				if environment == EnvironmentProduction && !slices.Contains(secureSSLModes, c.SSLMode) {
					return fmt.Errorf("%s: sslmode %q is not allowed in production, use one of %v", component, c.SSLMode, secureSSLModes)
				}
				return nil
			},
		)
	}
	if err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("%s: min conns %d exceeds max conns %d", component, c.MinConns, c.MaxConns)
	}
	return nil
}

// IsConfigured reports whether enough settings are present to dial.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

func (c *DatabaseConfig) validateURL() error {
	u, err := parseEndpoint("database", c.URL, "postgres", "postgresql")
	if err != nil {
		return err
	}
	if u.User.Username() == "" {
		return fmt.Errorf("database: url has no user")
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("database: url has no database name")
	}
	return nil
}
