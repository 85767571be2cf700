package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// ControlConfig configures the control API listener and its credentials.
type ControlConfig struct {
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// APIKeyHash is the hex SHA-256 of the bearer token. AuthDisabled skips
	// the check and is refused in production.
	APIKeyHash   string `envconfig:"API_KEY_HASH"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Addr is the listen address.
func (c *ControlConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the listener and, in production, the security posture.
func (c *ControlConfig) Validate(environment string) error {
	const component = "control api"

	checks := []func() error{
		func() error { return checkToken(component, "host", c.Host) },
		func() error { return checkPort(component, c.Port) },
		func() error {
			if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
				return fmt.Errorf("%s: tls needs both a cert and a key file", component)
			}
			return nil
		},
	}
	if environment == EnvironmentProduction {
		checks = append(checks,
			func() error {
				if c.AuthDisabled {
					return fmt.Errorf("%s: auth cannot be disabled in production", component)
				}
				return nil
			},
			func() error { return checkKeyHash(c.APIKeyHash) },
			func() error {
				if !c.TLSEnabled {
					return fmt.Errorf("%s: tls is required in production", component)
				}
				return nil
			},
		)
	}
	return firstError(checks...)
}

// checkKeyHash accepts exactly 32 hex-encoded bytes.
func checkKeyHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("control api: api key hash is required in production")
	}
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("control api: api key hash is not hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("control api: api key hash is %d bytes, want 32", len(raw))
	}
	return nil
}
