package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/nornir/internal/observability"
)

// RunPoolMonitor periodically exports pgxpool statistics as Prometheus
// metrics. It blocks until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// pgx counters are cumulative; only the delta is added to our counters.
	var lastAcquire, lastWait int64
	var lastAcquireDuration time.Duration

	collect := func() {
		stat := pool.Stat()

		observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
		observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
		observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))

		if n := stat.AcquireCount(); n > lastAcquire {
			observability.DatabasePoolAcquireCount.Add(float64(n - lastAcquire))
			lastAcquire = n
		}
		if d := stat.AcquireDuration(); d > lastAcquireDuration {
			observability.DatabasePoolAcquireDuration.Add((d - lastAcquireDuration).Seconds())
			lastAcquireDuration = d
		}
		if n := stat.EmptyAcquireCount(); n > lastWait {
			observability.DatabasePoolWaitCount.Add(float64(n - lastWait))
			lastWait = n
		}
	}

	collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collect()
		}
	}
}
