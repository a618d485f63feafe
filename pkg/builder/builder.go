// Package builder implements the block builder (C5): a single-writer
// periodic tick loop that drains the solution pool in deterministic
// content-address order, validates each candidate against its own
// sub-overlay, folds successes and discards failures, and commits
// everything the tick produced atomically. A tick that succeeds at
// nothing skips block creation outright; block numbers never advance
// without at least one solved solution.
package builder

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/blockstate"
	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/events"
	"github.com/ledgerproto/ledgerd/pkg/log"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/overlay"
	"github.com/ledgerproto/ledgerd/pkg/pool"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/validator"
	"github.com/rs/zerolog"
)

// Config controls the tick cadence and per-tick limits.
type Config struct {
	// TickPeriod is how often the builder attempts to assemble a block.
	TickPeriod time.Duration
	// MaxSolutionsPerBlock caps how many candidates one tick folds into a
	// block. Zero means unbounded. Candidates left over stay in the pool
	// for the next tick.
	MaxSolutionsPerBlock int
	// MaxCommitAttempts bounds the retry count for a storage error during
	// CommitBlock before the tick abandons and waits for the next one.
	MaxCommitAttempts int
	// BackoffBase is the base delay for the exponential backoff between
	// commit attempts.
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickPeriod <= 0 {
		c.TickPeriod = time.Second
	}
	if c.MaxCommitAttempts <= 0 {
		c.MaxCommitAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 50 * time.Millisecond
	}
	return c
}

// Builder owns the block-building tick loop. It is the engine's single
// writer: exactly one tick runs at a time, and Stop waits for an
// in-flight tick to finish committing or discarding before returning.
type Builder struct {
	store     storage.Store
	pool      *pool.Pool
	valid     *validator.Validator
	cfg       Config
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	publisher *events.Broker
}

// SetPublisher attaches a broker that the builder notifies with
// EventBlockCommitted (and one EventSolutionSolved per folded candidate)
// after every successful commit. Publishing is fire-and-forget: a nil
// publisher, the default, simply skips notification.
func (b *Builder) SetPublisher(broker *events.Broker) {
	b.publisher = broker
}

// New constructs a Builder. valid must not be nil; a builder with no way
// to validate candidates can never fold a solution.
func New(store storage.Store, p *pool.Pool, valid *validator.Validator, cfg Config) *Builder {
	return &Builder{
		store:  store,
		pool:   p,
		valid:  valid,
		cfg:    cfg.withDefaults(),
		logger: log.WithComponent("builder"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the tick loop in its own goroutine.
func (b *Builder) Start() {
	go b.run()
}

// Stop signals the tick loop to exit and blocks until the current tick,
// if any, has finished committing or discarding.
func (b *Builder) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Builder) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Tick(context.Background()); err != nil {
				b.logger.Error().Err(err).Msg("builder tick failed")
			}
		case <-b.stopCh:
			return
		}
	}
}

// Tick runs exactly one build attempt: it assembles at most one block
// from the current pool contents and commits it, or decides there is
// nothing to commit. It is exported so tests and the supervisor can drive
// single ticks directly without waiting on the ticker.
func (b *Builder) Tick(ctx context.Context) error {
	tickTimer := metrics.NewTimer()
	latest, err := b.store.LatestBlockNumber(ctx)
	if err != nil {
		return errs.Storagef(err, "read latest block number")
	}
	candidateNumber := latest + 1
	now := types.FromTime(time.Now())

	snap, err := b.store.NewSnapshot(ctx)
	if err != nil {
		return errs.Storagef(err, "open tick snapshot")
	}
	if closer, ok := snap.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	root := overlay.New(snap)
	for _, m := range blockstate.Mutations(candidateNumber, now) {
		root.Write(m.Contract, m.Key, m.Value)
	}

	candidates, err := b.pool.List(ctx, storage.Page{})
	if err != nil {
		return errs.Storagef(err, "list pool candidates")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Address().Less(candidates[j].Address())
	})

	var solved []types.Solution
	var solvedAddrs []types.ContentAddress
	var failed []storage.FailedSolution

	for _, candidate := range candidates {
		if b.cfg.MaxSolutionsPerBlock > 0 && len(solved) >= b.cfg.MaxSolutionsPerBlock {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Cancelledf("builder tick cancelled: %v", ctx.Err())
		default:
		}

		sub := root.Push()
		validateTimer := metrics.NewTimer()
		outcome, err := b.valid.Validate(ctx, sub, candidate)
		validateTimer.ObserveDurationVec(metrics.ValidatorDuration, "builder")
		if err != nil {
			return err
		}
		metrics.ValidatorGasUsed.WithLabelValues("builder").Observe(float64(outcome.Gas))

		if !outcome.Satisfied {
			sub.Discard()
			reason := failureReason(outcome)
			failed = append(failed, storage.FailedSolution{
				Address: candidate.Address(),
				Reason:  reason,
			})
			metrics.SolutionsFailedTotal.WithLabelValues(reason).Inc()
			continue
		}
		metrics.ValidatorUtilityScore.WithLabelValues("builder").Observe(outcome.Utility)

		for _, part := range candidate.Data {
			for _, kv := range part.StateMutations {
				sub.Write(part.PredicateToSolve.Contract, kv.Key, kv.Value)
			}
		}
		sub.Fold()
		solved = append(solved, candidate)
		solvedAddrs = append(solvedAddrs, candidate.Address())
	}

	if len(solved) == 0 {
		if len(failed) > 0 {
			if err := b.store.MoveSolutionsToFailed(ctx, failed); err != nil {
				b.logger.Warn().Err(err).Msg("recording failed candidates outside a block commit")
			}
		}
		metrics.BuilderTickOutcomesTotal.WithLabelValues("empty").Inc()
		return nil
	}

	proposal := storage.BlockProposal{
		Block: types.Block{
			Number:    candidateNumber,
			Timestamp: now,
			Solutions: solved,
		},
		Mutations: root.Mutations(),
		Solved:    solvedAddrs,
		Failed:    failed,
	}

	if err := b.commitWithRetry(ctx, proposal); err != nil {
		b.logger.Error().Err(err).Uint64("block", candidateNumber).Msg("block commit abandoned, pool left untouched")
		metrics.BuilderTickOutcomesTotal.WithLabelValues("abandoned").Inc()
		return nil
	}

	metrics.BuilderTickOutcomesTotal.WithLabelValues("committed").Inc()
	metrics.BlocksTotal.Inc()
	metrics.SolutionsSolvedTotal.Add(float64(len(solved)))
	metrics.LatestBlockNumber.Set(float64(candidateNumber))
	tickTimer.ObserveDuration(metrics.BlockCommitDuration)
	b.publish(candidateNumber, solvedAddrs)

	b.logger.Info().Uint64("block", candidateNumber).Int("solved", len(solved)).Int("failed", len(failed)).Msg("committed block")
	return nil
}

func (b *Builder) publish(blockNumber uint64, solved []types.ContentAddress) {
	if b.publisher == nil {
		return
	}
	b.publisher.Publish(&events.Event{
		Type:    events.EventBlockCommitted,
		Message: "block committed",
		Metadata: map[string]string{
			"block_number": strconv.FormatUint(blockNumber, 10),
			"solved_count": strconv.Itoa(len(solved)),
		},
	})
	for _, addr := range solved {
		b.publisher.Publish(&events.Event{
			Type:    events.EventSolutionSolved,
			Message: "solution solved",
			Metadata: map[string]string{
				"block_number":  strconv.FormatUint(blockNumber, 10),
				"solution_addr": addr.String(),
			},
		})
	}
}

func (b *Builder) commitWithRetry(ctx context.Context, proposal storage.BlockProposal) error {
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxCommitAttempts; attempt++ {
		err := b.store.CommitBlock(ctx, proposal)
		if err == nil {
			return nil
		}
		kind, ok := errs.KindOf(err)
		if !ok || kind != errs.KindStorage {
			return err
		}
		lastErr = err
		b.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("commit failed, retrying")

		backoff := b.cfg.BackoffBase * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return errs.Cancelledf("commit retry cancelled: %v", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func failureReason(outcome validator.Outcome) string {
	for _, p := range outcome.Parts {
		if !p.Satisfied {
			return p.Reason
		}
	}
	return "solution unsatisfied"
}
