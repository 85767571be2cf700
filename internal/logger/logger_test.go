package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.AppConfig
		logDebug  bool
		wantJSON  bool
		wantEmpty bool
	}{
		{
			name:     "Should emit JSON with identity attributes",
			cfg:      config.AppConfig{Name: "nornir", Version: "1.2.3", Environment: "production", LogLevel: "info", LogFormat: "json"},
			wantJSON: true,
		},
		{
			name: "Should emit text when configured",
			cfg:  config.AppConfig{Name: "nornir", Version: "dev", Environment: "development", LogLevel: "info", LogFormat: "text"},
		},
		{
			name:      "Should drop records below the configured level",
			cfg:       config.AppConfig{Name: "nornir", Environment: "development", LogLevel: "warn", LogFormat: "json"},
			logDebug:  true,
			wantEmpty: true,
		},
		{
			name:     "Should fall back to JSON and info on unknown values",
			cfg:      config.AppConfig{Name: "nornir", Environment: "staging", LogLevel: "super-critical", LogFormat: "xml"},
			wantJSON: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(&tt.cfg, &buf)

			if tt.logDebug {
				log.Info("hidden")
			} else {
				log.Info("hello", slog.String("k", "v"))
			}

			if tt.wantEmpty {
				assert.Empty(t, buf.String())
				return
			}

			if tt.wantJSON {
				var rec map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
				assert.Equal(t, "hello", rec["msg"])
				assert.Equal(t, tt.cfg.Name, rec["service"])
				assert.Equal(t, tt.cfg.Environment, rec["env"])
				assert.Equal(t, "v", rec["k"])
				return
			}

			assert.Contains(t, buf.String(), "msg=hello")
			assert.Contains(t, buf.String(), "service=nornir")
		})
	}
}

func TestNewWithWriter_PanicsOnNilConfig(t *testing.T) {
	assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	Component(base, "engine").Info("ready")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "engine", rec["component"])
}
