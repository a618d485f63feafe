package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerd_pool_size",
			Help: "Number of solutions currently queued in the pool",
		},
	)

	PoolAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerd_pool_admissions_total",
			Help: "Total number of solution submissions by outcome (admitted, rejected, duplicate)",
		},
		[]string{"outcome"},
	)

	PoolEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerd_pool_evictions_total",
			Help: "Total number of solutions evicted from the pool for staleness",
		},
	)

	// Builder metrics
	BlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerd_blocks_total",
			Help: "Total number of blocks committed",
		},
	)

	BlockCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerd_block_commit_duration_seconds",
			Help:    "Time taken for a builder tick to assemble and commit a block",
			Buckets: prometheus.DefBuckets,
		},
	)

	BuilderTickOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerd_builder_tick_outcomes_total",
			Help: "Total number of builder ticks by outcome (committed, empty, abandoned)",
		},
		[]string{"outcome"},
	)

	SolutionsSolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerd_solutions_solved_total",
			Help: "Total number of solutions folded into a committed block",
		},
	)

	SolutionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerd_solutions_failed_total",
			Help: "Total number of solutions recorded with a Fail outcome, by reason",
		},
		[]string{"reason"},
	)

	// Validator metrics, split by the path that invoked validation: the
	// builder's tick, the pool's advisory dry-check, or the query
	// service's debug-only check_solution.
	ValidatorGasUsed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerd_validator_gas_used",
			Help:    "Gas consumed per Validate call, by invocation source",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"source"},
	)

	ValidatorUtilityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerd_validator_utility_score",
			Help:    "Utility score of satisfied solutions, by invocation source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ValidatorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerd_validator_duration_seconds",
			Help:    "Wall-clock time of a Validate call, by invocation source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Storage backend metrics
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerd_storage_operation_duration_seconds",
			Help:    "Latency of storage backend operations, by operation and backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	StorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerd_storage_errors_total",
			Help: "Total number of storage operation failures, by operation and backend",
		},
		[]string{"operation", "backend"},
	)

	// Block-state freshness
	LatestBlockNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerd_latest_block_number",
			Help: "Block number of the most recently committed block",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolSize,
		PoolAdmissionsTotal,
		PoolEvictionsTotal,
		BlocksTotal,
		BlockCommitDuration,
		BuilderTickOutcomesTotal,
		SolutionsSolvedTotal,
		SolutionsFailedTotal,
		ValidatorGasUsed,
		ValidatorUtilityScore,
		ValidatorDuration,
		StorageOperationDuration,
		StorageErrorsTotal,
		LatestBlockNumber,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
