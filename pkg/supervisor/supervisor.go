// Package supervisor implements the lifecycle supervisor (C8): it owns
// every background worker the engine runs — the block builder's tick
// loop, the pool's aging sweeper, and an optional metrics reporter — and
// is responsible for bringing them up in the right order at startup and
// bringing them down in the right order at shutdown.
package supervisor

import (
	"context"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/blockstate"
	"github.com/ledgerproto/ledgerd/pkg/builder"
	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/log"
	"github.com/ledgerproto/ledgerd/pkg/pool"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/rs/zerolog"
)

// Config bounds the reporting cadence of the optional metrics worker. The
// builder and pool-aging sweeper take their own Config values directly.
type Config struct {
	MetricsReportInterval time.Duration
}

// MetricsReporter periodically samples engine state into gauges. It is
// satisfied by pkg/metrics; Supervisor only needs Report called on a
// schedule.
type MetricsReporter interface {
	Report(ctx context.Context) error
}

// Supervisor starts and stops the builder, the pool-aging sweeper, and an
// optional metrics reporter as a unit.
type Supervisor struct {
	store    storage.Store
	build    *builder.Builder
	sweeper  *pool.Sweeper
	reporter MetricsReporter
	cfg      Config
	logger   zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Supervisor. reporter may be nil to skip the metrics
// worker entirely.
func New(store storage.Store, build *builder.Builder, sweeper *pool.Sweeper, reporter MetricsReporter, cfg Config) *Supervisor {
	if cfg.MetricsReportInterval <= 0 {
		cfg.MetricsReportInterval = 10 * time.Second
	}
	return &Supervisor{
		store:    store,
		build:    build,
		sweeper:  sweeper,
		reporter: reporter,
		cfg:      cfg,
		logger:   log.WithComponent("supervisor"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start initializes the block-state contract if absent, then starts the
// builder, the pool-aging sweeper, and the metrics reporter (if
// configured). It is the "startup" half of §4.8.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := blockstate.Initialize(ctx, s.store, types.FromTime(time.Now())); err != nil {
		return errs.Consistencyf(err, "initialize block-state contract")
	}

	s.build.Start()
	go s.sweeper.Run(sweeperCtx(s.stopCh))

	if s.reporter != nil {
		go s.runMetricsReporter()
	} else {
		close(s.doneCh)
	}

	s.logger.Info().Msg("supervisor started")
	return nil
}

// Stop signals every worker to cancel and waits for the builder to finish
// its current tick before returning. It never interrupts a commit
// mid-flight: builder.Stop already blocks on exactly that guarantee.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.build.Stop()
	if s.reporter != nil {
		<-s.doneCh
	}
	s.logger.Info().Msg("supervisor stopped")
}

func (s *Supervisor) runMetricsReporter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.MetricsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.reporter.Report(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("metrics report failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweeperCtx adapts the supervisor's stop channel to the context the
// sweeper's Run expects.
func sweeperCtx(stopCh chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stopCh
		cancel()
	}()
	return ctx
}
