package metrics

import "context"

// Sample reports a single point-in-time reading of engine state. The
// cmd/ledgerd wiring supplies one backed by the running storage.Store,
// kept as a function value rather than a storage.Store field so this
// package never depends on pkg/storage — which itself depends on
// pkg/metrics to time its operations.
type Sample func(ctx context.Context) (poolSize int, latestBlock uint64, err error)

// Collector samples engine-wide gauges on a schedule driven by the
// supervisor. It satisfies supervisor.MetricsReporter.
type Collector struct {
	sample Sample
}

// NewCollector constructs a Collector around sample.
func NewCollector(sample Sample) *Collector {
	return &Collector{sample: sample}
}

// Report samples the current pool size and latest block number into their
// gauges. A transient read failure is skipped rather than surfaced, since
// a missed sample is corrected on the next report cycle.
func (c *Collector) Report(ctx context.Context) error {
	poolSize, latestBlock, err := c.sample(ctx)
	if err != nil {
		return nil
	}
	PoolSize.Set(float64(poolSize))
	LatestBlockNumber.Set(float64(latestBlock))
	return nil
}
