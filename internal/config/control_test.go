package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should apply listener defaults",
			env:  mergeEnvVars(nil),
			check: func(t *testing.T, cfg *Config) {
				c := cfg.Server.Control
				assert.Equal(t, "0.0.0.0:8080", c.Addr())
				assert.Equal(t, 10*time.Second, c.ReadTimeout)
				assert.Equal(t, 5*time.Second, c.ReadHeaderTimeout)
				assert.Equal(t, 10*time.Second, c.WriteTimeout)
				assert.Equal(t, 60*time.Second, c.IdleTimeout)
				assert.Equal(t, 512<<10, c.MaxHeaderBytes)
			},
		},
		{
			name:    "Should require cert and key when TLS is on",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_TLS_ENABLED": "true"}),
			wantErr: true,
		},
		{
			name: "Should accept TLS with cert and key",
			env: mergeEnvVars(map[string]string{
				"NORNIR_SERVER_CONTROL_TLS_ENABLED":   "true",
				"NORNIR_SERVER_CONTROL_TLS_CERT_FILE": "/certs/tls.crt",
				"NORNIR_SERVER_CONTROL_TLS_KEY_FILE":  "/certs/tls.key",
			}),
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Server.Control.TLSEnabled)
			},
		},
		{
			name:    "Should require an API key hash in production",
			env:     production(nil, "NORNIR_SERVER_CONTROL_API_KEY_HASH"),
			wantErr: true,
		},
		{
			name:    "Should reject a truncated API key hash in production",
			env:     production(map[string]string{"NORNIR_SERVER_CONTROL_API_KEY_HASH": "aaaaaa"}),
			wantErr: true,
		},
		{
			name:    "Should reject a non-hex API key hash in production",
			env:     production(map[string]string{"NORNIR_SERVER_CONTROL_API_KEY_HASH": "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"}),
			wantErr: true,
		},
		{
			name:    "Should require TLS in production",
			env:     production(map[string]string{"NORNIR_SERVER_CONTROL_TLS_ENABLED": "false"}),
			wantErr: true,
		},
		{
			name:    "Should refuse disabled auth in production",
			env:     production(map[string]string{"NORNIR_SERVER_CONTROL_AUTH_DISABLED": "true"}),
			wantErr: true,
		},
		{
			name: "Should accept 12 character passwords in production",
			env: production(map[string]string{
				"NORNIR_DB_PASSWORD":    "exactly12chr",
				"NORNIR_REDIS_PASSWORD": "redis_pass12",
			}),
		},
		{
			name:    "Should reject port 0",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_PORT": "0"}),
			wantErr: true,
		},
		{
			name:    "Should reject a zero header limit",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_MAX_HEADER_BYTES": "0"}),
			wantErr: true,
		},
		{
			name:    "Should reject a negative header limit",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_MAX_HEADER_BYTES": "-100"}),
			wantErr: true,
		},
		{
			name:    "Should reject a host with leading whitespace",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_HOST": " 0.0.0.0"}),
			wantErr: true,
		},
		{
			name:    "Should reject a host with trailing whitespace",
			env:     mergeEnvVars(map[string]string{"NORNIR_SERVER_CONTROL_HOST": "0.0.0.0 "}),
			wantErr: true,
		},
	})
}
