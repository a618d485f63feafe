// Package pool implements the solution pool (C4): the admission point for
// client-submitted solutions ahead of block building. Admission is
// idempotent by content address, gates only on structural well-formedness
// (never on whether a solution will ultimately validate), and optionally
// offers an advisory dry-validation pass that never blocks admission.
package pool

import (
	"context"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/log"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/validator"
)

// Config bounds pool admission and aging.
type Config struct {
	// MaxSolutionParts rejects structurally oversize solutions before
	// they ever reach storage.
	MaxSolutionParts int
	// MaxSolutionBytes rejects a solution whose encoded size exceeds the
	// ceiling, independent of how many parts it has. Zero means unbounded.
	MaxSolutionBytes int
	// MaxAgeBlocks is how many committed blocks a solution may sit in the pool
	// before the aging sweep evicts it.
	MaxAgeBlocks uint64
}

// Pool is the solution pool. It holds a Store for persistence and an
// optional Validator for advisory dry-validation; the Validator may be
// nil, in which case Submit only does structural admission.
type Pool struct {
	store storage.Store
	valid *validator.Validator
	cfg   Config
}

// New constructs a Pool. valid may be nil to skip advisory dry-validation.
func New(store storage.Store, valid *validator.Validator, cfg Config) *Pool {
	return &Pool{store: store, valid: valid, cfg: cfg}
}

// AdmissionResult reports what Submit decided. Advisory is only set when
// a Validator was configured; it never affects whether the solution is
// admitted.
type AdmissionResult struct {
	Admitted      bool
	AlreadyInPool bool
	Advisory      *validator.Outcome
}

// Submit admits solution into the pool if it is structurally well-formed.
// Admission is idempotent: resubmitting a solution already in the pool
// (by content address) succeeds without inserting a duplicate.
func (p *Pool) Submit(ctx context.Context, solution types.Solution) (AdmissionResult, error) {
	snap, err := p.store.NewSnapshot(ctx)
	if err != nil {
		return AdmissionResult{}, errs.Storagef(err, "open admission snapshot")
	}
	if closer, ok := snap.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if err := p.checkStructural(ctx, snap, solution); err != nil {
		metrics.PoolAdmissionsTotal.WithLabelValues("rejected").Inc()
		return AdmissionResult{}, err
	}

	addr := solution.Address()
	already, err := p.store.SolutionInPool(ctx, addr)
	if err != nil {
		return AdmissionResult{}, errs.Storagef(err, "check pool membership %s", addr)
	}
	if already {
		metrics.PoolAdmissionsTotal.WithLabelValues("duplicate").Inc()
		return AdmissionResult{Admitted: true, AlreadyInPool: true}, nil
	}

	if err := p.store.InsertSolutionsIntoPool(ctx, []types.Solution{solution}); err != nil {
		return AdmissionResult{}, errs.Storagef(err, "insert solution %s", addr)
	}
	metrics.PoolAdmissionsTotal.WithLabelValues("admitted").Inc()

	result := AdmissionResult{Admitted: true}
	if p.valid != nil {
		timer := metrics.NewTimer()
		outcome, err := p.valid.Validate(ctx, snap, solution)
		timer.ObserveDurationVec(metrics.ValidatorDuration, "pool_dry_check")
		if err != nil {
			log.Logger.Warn().Err(err).Str("solution", addr.String()).Msg("advisory dry-validation failed")
			return result, nil
		}
		metrics.ValidatorGasUsed.WithLabelValues("pool_dry_check").Observe(float64(outcome.Gas))
		if outcome.Satisfied {
			metrics.ValidatorUtilityScore.WithLabelValues("pool_dry_check").Observe(outcome.Utility)
		}
		result.Advisory = &outcome
	}

	return result, nil
}

func (p *Pool) checkStructural(ctx context.Context, snap storage.Snapshot, solution types.Solution) error {
	if len(solution.Data) == 0 {
		return errs.PoolAdmissionf("solution has no parts")
	}
	if p.cfg.MaxSolutionParts > 0 && len(solution.Data) > p.cfg.MaxSolutionParts {
		return errs.PoolAdmissionf("solution has %d parts, exceeding the limit of %d", len(solution.Data), p.cfg.MaxSolutionParts)
	}
	if p.cfg.MaxSolutionBytes > 0 {
		if size := len(solution.Bytes()); size > p.cfg.MaxSolutionBytes {
			return errs.PoolAdmissionf("solution is %d bytes, exceeding the limit of %d", size, p.cfg.MaxSolutionBytes)
		}
	}
	for _, part := range solution.Data {
		contract, predicate := part.PredicateToSolve.Contract, part.PredicateToSolve.Predicate
		if contract.IsZero() || predicate.IsZero() {
			return errs.PoolAdmissionf("solution part names the zero predicate address")
		}
		if _, found, err := snap.GetPredicate(ctx, contract, predicate); err != nil {
			return errs.Storagef(err, "resolve predicate %s/%s", contract, predicate)
		} else if !found {
			return errs.PoolAdmissionf("solution part names an unresolved predicate %s/%s", contract, predicate)
		}
	}
	return nil
}

// List returns one page of the currently pooled solutions, in the order
// the store's ListSolutionsPool gives: bytewise content-address order for
// BoltStore and SQLStore, insertion order for MemStore. The builder sorts
// its candidates by content address itself.
func (p *Pool) List(ctx context.Context, page storage.Page) ([]types.Solution, error) {
	solutions, err := p.store.ListSolutionsPool(ctx, page)
	if err != nil {
		return nil, errs.Storagef(err, "list pool")
	}
	return solutions, nil
}

// AgeOutStale evicts solutions that have sat in the pool since before
// currentBlock - MaxAgeBlocks, recording an expiry outcome for each. It
// is meant to be called once per committed block by the lifecycle
// supervisor's aging sweeper, not by the builder itself.
func (p *Pool) AgeOutStale(ctx context.Context, currentBlock uint64, submittedAt map[types.ContentAddress]uint64) error {
	if p.cfg.MaxAgeBlocks == 0 || currentBlock < p.cfg.MaxAgeBlocks {
		return nil
	}
	cutoff := currentBlock - p.cfg.MaxAgeBlocks

	var stale []storage.FailedSolution
	for addr, seenAt := range submittedAt {
		if seenAt < cutoff {
			stale = append(stale, storage.FailedSolution{Address: addr, Reason: "aged out of pool"})
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := p.store.MoveSolutionsToFailed(ctx, stale); err != nil {
		return errs.Storagef(err, "age out stale solutions")
	}
	metrics.PoolEvictionsTotal.Add(float64(len(stale)))
	log.Logger.Info().Int("count", len(stale)).Msg("aged stale solutions out of pool")
	return nil
}

// Sweeper periodically calls AgeOutStale against the live pool contents,
// tracking first-seen block height per solution in memory. It owns its
// own goroutine, started and stopped by the lifecycle supervisor.
type Sweeper struct {
	pool     *Pool
	store    storage.Store
	interval time.Duration
	firstSeen map[types.ContentAddress]uint64
}

// NewSweeper constructs a Sweeper that checks for aged-out solutions
// every interval.
func NewSweeper(pool *Pool, store storage.Store, interval time.Duration) *Sweeper {
	return &Sweeper{pool: pool, store: store, interval: interval, firstSeen: make(map[types.ContentAddress]uint64)}
}

// Run blocks until ctx is cancelled, sweeping at each tick of interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				log.Logger.Error().Err(err).Msg("pool aging sweep failed")
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	current, err := s.store.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}

	solutions, err := s.pool.List(ctx, storage.Page{})
	if err != nil {
		return err
	}
	seen := make(map[types.ContentAddress]bool, len(solutions))
	for _, sol := range solutions {
		addr := sol.Address()
		seen[addr] = true
		if _, tracked := s.firstSeen[addr]; !tracked {
			s.firstSeen[addr] = current
		}
	}
	for addr := range s.firstSeen {
		if !seen[addr] {
			delete(s.firstSeen, addr)
		}
	}

	return s.pool.AgeOutStale(ctx, current, s.firstSeen)
}
