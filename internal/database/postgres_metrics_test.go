//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/config"
	"github.com/rafaeljc/nornir/internal/database"
	"github.com/rafaeljc/nornir/internal/testsupport"
)

func poolGauge(t *testing.T, state string) float64 {
	return testsupport.GetMetricValue(t, "nornir_database_pool_connections", map[string]string{"state": state})
}

// holdAll acquires n connections; the caller releases them.
func holdAll(t *testing.T, pool *pgxpool.Pool, n int) []*pgxpool.Conn {
	t.Helper()
	conns := make([]*pgxpool.Conn, 0, n)
	for range n {
		c, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	return conns
}

func TestRunPoolMonitor_Integration(t *testing.T) {
	ctx := context.Background()

	ctr, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	const maxConns = 4
	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            ctr.ConnectionString,
		MaxConns:       maxConns,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
		PingMaxRetries: 3,
		PingBackoff:    time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	monitorCtx, stop := context.WithCancel(ctx)
	t.Cleanup(stop)
	go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

	t.Run("Should export the configured maximum", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return poolGauge(t, "max") == maxConns
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should track held connections as in use", func(t *testing.T) {
		held := holdAll(t, pool, 2)

		require.Eventually(t, func() bool {
			return poolGauge(t, "in_use") == 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.LessOrEqual(t, poolGauge(t, "idle")+poolGauge(t, "in_use"), poolGauge(t, "total")+1)

		for _, c := range held {
			c.Release()
		}
		require.Eventually(t, func() bool {
			return poolGauge(t, "in_use") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Should count acquires and time spent acquiring", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "nornir_database_pool_acquire_count_total", nil)

		for _, c := range holdAll(t, pool, 3) {
			c.Release()
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "nornir_database_pool_acquire_count_total", nil) == before+3
		}, 2*time.Second, 10*time.Millisecond)
		assert.Positive(t, testsupport.GetMetricValue(t, "nornir_database_pool_acquire_duration_seconds_total", nil))
	})

	t.Run("Should count acquires that waited on an exhausted pool", func(t *testing.T) {
		held := holdAll(t, pool, maxConns)

		timeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		_, err := pool.Acquire(timeout)
		cancel()
		require.Error(t, err, "pool must refuse a connection beyond MaxConns")

		got := make(chan error, 1)
		go func() {
			c, err := pool.Acquire(ctx)
			if err == nil {
				c.Release()
			}
			got <- err
		}()

		time.Sleep(50 * time.Millisecond)
		held[0].Release()
		select {
		case err := <-got:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("blocked acquire never completed")
		}
		for _, c := range held[1:] {
			c.Release()
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "nornir_database_pool_wait_count_total", nil) >= 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}
