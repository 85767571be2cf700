package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/nornir/internal/observability"
)

// MemoryCache acts as the L1 caching layer using a high-performance,
// contention-free algorithm (S3-FIFO) provided by the 'otter' library.
type MemoryCache[V any] struct {
	store otter.Cache[string, V]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of items (Hard Cap to prevent OOM).
// ttl: Time-To-Live for items (Safety net for missed invalidations).
func NewMemoryCache[V any](capacity int, ttl time.Duration) (*MemoryCache[V], error) {
	builder, err := otter.NewBuilder[string, V](capacity)
	if err != nil {
		return nil, err
	}

	store, err := builder.CollectStats().WithTTL(ttl).Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache[V]{store: store}, nil
}

// Get retrieves a value from memory and records the hit or miss.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		observability.PrefCacheHits.Inc()
	} else {
		observability.PrefCacheMisses.Inc()
	}
	return v, ok
}

// Set adds or updates a value. Rejected writes are counted as dropped.
func (c *MemoryCache[V]) Set(key string, value V) {
	if !c.store.Set(key, value) {
		observability.PrefCacheDropped.Inc()
	}
}

// Del removes a value from memory.
// Used when a change notification is received for the key.
func (c *MemoryCache[V]) Del(key string) {
	c.store.Delete(key)
}

// Len returns the number of cached items.
func (c *MemoryCache[V]) Len() int {
	return c.store.Size()
}

// RunMetricsCollector periodically publishes size and eviction statistics.
// It blocks until ctx is cancelled.
func (c *MemoryCache[V]) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.store.Stats()

			observability.PrefCacheItems.Set(float64(c.store.Size()))

			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.PrefCacheEvictions.Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
		}
	}
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache[V]) Close() {
	c.store.Close()
}
