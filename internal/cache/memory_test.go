package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/cache"
	"github.com/rafaeljc/nornir/internal/testsupport"
)

func TestMemoryCache(t *testing.T) {
	c, err := cache.NewMemoryCache[string](100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	t.Run("Should count a miss for an absent key", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "nornir_prefs_l1_cache_misses_total", nil, 1, func() {
			_, ok := c.Get("absent")
			assert.False(t, ok)
		})
	})

	t.Run("Should count a hit after Set", func(t *testing.T) {
		c.Set("k", "v")
		testsupport.AssertMetricDelta(t, "nornir_prefs_l1_cache_hits_total", nil, 1, func() {
			v, ok := c.Get("k")
			assert.True(t, ok)
			assert.Equal(t, "v", v)
		})
	})

	t.Run("Should forget a deleted key", func(t *testing.T) {
		c.Set("gone", "v")
		c.Del("gone")
		_, ok := c.Get("gone")
		assert.False(t, ok)
	})
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, err := cache.NewMemoryCache[int](10, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.Set("k", 1)
	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMemoryCache_MetricsCollector(t *testing.T) {
	c, err := cache.NewMemoryCache[int](10, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.Set("a", 1)
	c.Set("b", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunMetricsCollector(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return testsupport.GetMetricValue(t, "nornir_prefs_l1_cache_items_count", nil) == float64(c.Len())
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}
