package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig configures the side listener serving probes and metrics.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes and idle connections on the listener.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the port and that every path is absolute.
func (o *ObservabilityConfig) Validate() error {
	if err := checkPort("observability", o.Port); err != nil {
		return err
	}
	for _, p := range []string{o.LivenessPath, o.ReadinessPath, o.MetricsPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("observability: path %q must start with /", p)
		}
	}
	return nil
}
