package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., nornir_...).
const namespace = "nornir"

// lowLatencyBuckets defines custom buckets for in-process operations.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL API (HTTP)
	// -------------------------------------------------------------------------

	// ControlAPIReqDuration measures the latency of HTTP requests.
	// Metric: nornir_control_api_http_handling_seconds
	ControlAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ControlAPIReqTotal counts the total number of HTTP requests.
	// Metric: nornir_control_api_http_requests_total
	ControlAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control API",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// ENROLLMENT ENGINE
	// -------------------------------------------------------------------------

	// EnrollmentsTotal counts successful enrollments.
	// Labels: kind (experiment, rollout)
	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "enrollments_total",
		Help:      "Total successful enrollments",
	}, []string{"kind"})

	// UnenrollmentsTotal counts unenrollments by cause.
	UnenrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "unenrollments_total",
		Help:      "Total unenrollments by reason",
	}, []string{"kind", "reason"})

	// EnrollmentStatusTotal counts per-recipe status reports emitted while
	// processing recipes.
	EnrollmentStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "enrollment_status_total",
		Help:      "Total enrollment status reports by status and reason",
	}, []string{"status", "reason"})

	// EnrollmentFailuresTotal counts recipes that could not be enrolled.
	EnrollmentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "enrollment_failures_total",
		Help:      "Total enrollment failures by reason",
	}, []string{"reason"})

	// UnenrollmentFailuresTotal counts unenroll calls that were rejected.
	UnenrollmentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "unenrollment_failures_total",
		Help:      "Total rejected unenrollments by reason",
	}, []string{"reason"})

	// ActiveEnrollments reports the number of active enrollments per kind.
	ActiveEnrollments = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "active_enrollments",
		Help:      "Current number of active enrollments",
	}, []string{"kind"})

	// RecipeProcessingDuration measures how long the engine takes to process
	// a single recipe.
	RecipeProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "recipe_processing_seconds",
		Help:      "Time taken to process one recipe",
		Buckets:   lowLatencyBuckets,
	})

	// -------------------------------------------------------------------------
	// PREFERENCE STORE (L1 Cache)
	// -------------------------------------------------------------------------

	PrefCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 cache hits (in-memory)",
	})

	PrefCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 cache misses",
	})

	// PrefCacheEvictions tracks items removed due to capacity pressure.
	PrefCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_evictions_total",
		Help:      "Total items evicted due to capacity pressure",
	})

	// S3-FIFO (Otter) tracks item count efficiently, but not byte size.
	PrefCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_items_count",
		Help:      "Current number of items in the L1 cache",
	})

	// PrefCacheDropped tracks writes rejected by the cache.
	PrefCacheDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_cache_dropped_total",
		Help:      "Total sets dropped by the L1 cache",
	})

	PrefInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefs",
		Name:      "l1_invalidations_total",
		Help:      "Total cache invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// SYNCER
	// -------------------------------------------------------------------------

	// SyncerRunDuration measures one full recipe sync.
	// Metric: nornir_syncer_run_duration_seconds
	SyncerRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "run_duration_seconds",
		Help:      "Time taken to fetch and process a recipe batch",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "runs_total",
		Help:      "Total recipe sync runs",
	}, []string{"status"}) // success, fail, skipped

	SyncerRecipes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "recipes",
		Help:      "Number of recipes in the last fetched batch",
	})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	// DatabasePoolConnections tracks pool connections by state (max, total, idle, in_use).
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "connections",
		Help:      "Number of connections in the database pool by state",
	}, []string{"state"})

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_count_total",
		Help:      "Cumulative count of successful connection acquires",
	})

	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_duration_seconds_total",
		Help:      "Total time spent acquiring connections",
	})

	// DatabasePoolWaitCount counts acquires that had to wait for a free connection.
	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "wait_count_total",
		Help:      "Cumulative count of acquires that waited for a connection",
	})

	// DependencyUp reports the outcome of the last readiness check per component.
	// Metric: nornir_dependency_up
	DependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dependency_up",
		Help:      "1 if the component passed its last readiness check, 0 otherwise",
	}, []string{"component"})
)
