package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/config"
	"github.com/rafaeljc/nornir/internal/database"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/observability"
)

// fixed returns a checker that always reports err.
func fixed(name string, err error) observability.Checker {
	return observability.CheckFunc{
		Component: name,
		Fn:        func(context.Context) error { return err },
	}
}

// startServer runs an observability server on a free port with custom paths,
// so the test proves the configuration is honoured.
func startServer(t *testing.T, checkers ...observability.Checker) string {
	t.Helper()

	port, err := getFreePort()
	require.NoError(t, err)

	cfg := &config.ObservabilityConfig{
		Port:          fmt.Sprintf("%d", port),
		Timeout:       time.Second,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}

	server := observability.NewServer(logger.NewNop(), cfg, checkers...)
	server.Start()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + cfg.LivenessPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "server failed to start")

	return baseURL
}

func readiness(t *testing.T, baseURL string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(baseURL + "/check-deps")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status map[string]any `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body.Status
}

func TestServer_Probes(t *testing.T) {
	db, err := database.OpenBadger(database.BadgerOptions{InMemory: true})
	require.NoError(t, err)

	baseURL := startServer(t,
		database.NewBadgerHealthChecker(db),
		fixed("prefs", nil),
	)

	t.Run("Should answer liveness on the configured path", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/alive")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(body))
	})

	t.Run("Should expose engine metrics on the configured path", func(t *testing.T) {
		observability.ActiveEnrollments.WithLabelValues("experiment").Set(1)

		resp, err := http.Get(baseURL + "/telemetry")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "go_goroutines")
		assert.Contains(t, string(body), "nornir_engine_active_enrollments")
	})

	t.Run("Should be ready while every dependency is up", func(t *testing.T) {
		code, status := readiness(t, baseURL)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "up", status["badger"])
		assert.Equal(t, "up", status["prefs"])
	})

	t.Run("Should report not ready once badger is closed", func(t *testing.T) {
		require.NoError(t, db.Close())

		code, status := readiness(t, baseURL)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, status["badger"], "down")
		assert.Equal(t, "up", status["prefs"])
	})
}

func TestServer_ReadinessFailure(t *testing.T) {
	baseURL := startServer(t, fixed("postgres", errors.New("connection refused")))

	code, status := readiness(t, baseURL)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "down: connection refused", status["postgres"])
}

func TestServer_HandlerRecordsDependencyGauge(t *testing.T) {
	cfg := &config.ObservabilityConfig{
		Timeout:       time.Second,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}

	var healthy atomic.Bool
	flaky := observability.CheckFunc{
		Component: "flaky",
		Fn: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("timeout")
		},
	}
	handler := observability.NewServer(logger.NewNop(), cfg, flaky).Handler()

	probe := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, probe())
	assert.Equal(t, 0.0, testutil.ToFloat64(observability.DependencyUp.WithLabelValues("flaky")))

	healthy.Store(true)
	assert.Equal(t, http.StatusOK, probe())
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.DependencyUp.WithLabelValues("flaky")))
}

// getFreePort asks the kernel for a free TCP port.
func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
