// Package query implements the read-only query service (C7): debugging
// operations that reproduce the validator's behavior against a snapshot
// without ever admitting to the pool or persisting a mutation. Every
// operation here shares the same two-VM validator the builder uses; they
// differ only in what kind of overlay, if any, is placed over committed
// state.
package query

import (
	"context"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/validator"
	"github.com/ledgerproto/ledgerd/pkg/vm"
)

// debugGasLimit is the gas budget given to a QueryStateReads call, which
// runs outside the builder's own per-solution budget and so needs its own
// generous ceiling.
const debugGasLimit = 10_000_000

// Service answers read-only queries against committed state.
type Service struct {
	store       storage.Store
	valid       *validator.Validator
	stateReadVM vm.StateReadVM
}

// New constructs a query Service sharing store and valid with the rest of
// the engine.
func New(store storage.Store, valid *validator.Validator, stateReadVM vm.StateReadVM) *Service {
	return &Service{store: store, valid: valid, stateReadVM: stateReadVM}
}

func (s *Service) snapshot(ctx context.Context) (storage.Snapshot, func(), error) {
	snap, err := s.store.NewSnapshot(ctx)
	if err != nil {
		return nil, nil, errs.Storagef(err, "open query snapshot")
	}
	closer, ok := snap.(interface{ Close() error })
	if !ok {
		return snap, func() {}, nil
	}
	return snap, func() { closer.Close() }, nil
}

// QueryState reads a single cell directly from committed state.
func (s *Service) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	snap, release, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return snap.QueryState(ctx, contract, key)
}

// CheckSolution runs the validator against a read-only snapshot of
// committed state. It never admits solution to the pool and never
// persists anything it reads or would have written.
func (s *Service) CheckSolution(ctx context.Context, solution types.Solution) (validator.Outcome, error) {
	snap, release, err := s.snapshot(ctx)
	if err != nil {
		return validator.Outcome{}, err
	}
	defer release()
	return s.observeValidate(ctx, snap, solution)
}

// CheckSolutionWithContracts validates solution the same way CheckSolution
// does, but predicate resolution first checks adhocContracts before
// falling through to committed state. State reads still go straight to
// committed state: only contract/predicate lookup is overlaid, so a
// debugging session can try a not-yet-deployed contract's predicates
// without ever persisting it.
func (s *Service) CheckSolutionWithContracts(ctx context.Context, solution types.Solution, adhocContracts []types.Contract) (validator.Outcome, error) {
	snap, release, err := s.snapshot(ctx)
	if err != nil {
		return validator.Outcome{}, err
	}
	defer release()

	overlaid := &adhocSnapshot{Snapshot: snap, contracts: adhocContracts}
	return s.observeValidate(ctx, overlaid, solution)
}

// observeValidate runs the validator and records the "query" source's gas
// and utility histograms, distinguishing dry debugging runs from the
// builder's and pool's own validator invocations.
func (s *Service) observeValidate(ctx context.Context, snap storage.Snapshot, solution types.Solution) (validator.Outcome, error) {
	timer := metrics.NewTimer()
	outcome, err := s.valid.Validate(ctx, snap, solution)
	timer.ObserveDurationVec(metrics.ValidatorDuration, "query")
	if err != nil {
		return outcome, err
	}
	metrics.ValidatorGasUsed.WithLabelValues("query").Observe(float64(outcome.Gas))
	if outcome.Satisfied {
		metrics.ValidatorUtilityScore.WithLabelValues("query").Observe(outcome.Utility)
	}
	return outcome, nil
}

// RequestType selects what QueryStateReads returns.
type RequestType int

const (
	// RequestReads returns only the raw (contract, key, value) reads
	// observed while running the state-read programs.
	RequestReads RequestType = iota
	// RequestSlots returns only the ordered slot values the state-read
	// programs produced for the constraint VM to consume.
	RequestSlots
	// RequestAll returns both.
	RequestAll
)

// ReadsResult is the outcome of QueryStateReads.
type ReadsResult struct {
	Reads []types.KV
	Slots []types.Value
}

// QueryStateReads executes just the state-read portion of validating
// solution.Data[index], skipping the constraint VM entirely. If programs
// is non-empty, it is used in place of the predicate's own stored
// state-read programs, letting a caller debug a solution against
// hypothetical state-read logic before it is ever deployed. Otherwise the
// part's own predicate is resolved from committed state as usual.
func (s *Service) QueryStateReads(ctx context.Context, solution types.Solution, index int, programs [][]byte, requestType RequestType) (*ReadsResult, error) {
	if index < 0 || index >= len(solution.Data) {
		return nil, errs.Validationf("solution part index %d out of range", index)
	}
	part := solution.Data[index]

	snap, release, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	readPrograms := programs
	if len(readPrograms) == 0 {
		predicate, ok, err := snap.GetPredicate(ctx, part.PredicateToSolve.Contract, part.PredicateToSolve.Predicate)
		if err != nil {
			return nil, errs.Storagef(err, "resolve predicate %s", part.PredicateToSolve)
		}
		if !ok {
			return nil, errs.Validationf("predicate not found: %s", part.PredicateToSolve)
		}
		readPrograms = predicate.StateReadPrograms
	}

	gas := vm.NewGasMeter(debugGasLimit, 0)
	readSlots, err := s.stateReadVM.ReadState(ctx, readPrograms, snap, part.PredicateToSolve.Contract, part.DecisionVariables, gas)
	if err != nil {
		return nil, err
	}

	result := &ReadsResult{}
	if requestType == RequestReads || requestType == RequestAll {
		result.Reads = readSlots
	}
	if requestType == RequestSlots || requestType == RequestAll {
		slots := make([]types.Value, len(readSlots))
		for i, kv := range readSlots {
			slots[i] = kv.Value
		}
		result.Slots = slots
	}
	return result, nil
}

// adhocSnapshot layers a list of not-yet-deployed contracts over a
// storage.Snapshot for predicate resolution only; state reads always fall
// through to the wrapped snapshot unchanged.
type adhocSnapshot struct {
	storage.Snapshot
	contracts []types.Contract
}

func (a *adhocSnapshot) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	for _, c := range a.contracts {
		if c.Address() == addr {
			return &types.SignedContract{Contract: c}, true, nil
		}
	}
	return a.Snapshot.GetContract(ctx, addr)
}

func (a *adhocSnapshot) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	for _, c := range a.contracts {
		if c.Address() != contract {
			continue
		}
		for _, p := range c.Predicates {
			if p.Address() == predicate {
				pred := p
				return &pred, true, nil
			}
		}
	}
	return a.Snapshot.GetPredicate(ctx, contract, predicate)
}
