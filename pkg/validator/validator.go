// Package validator implements the two-VM validation contract (C3): for
// each SolutionPart in a Solution, resolve its predicate, run the
// predicate's state-read programs to produce read slots, then run its
// constraint programs against those slots plus the part's own proposed
// values. SolutionParts validate independently and in parallel; their
// gas and utility are summed deterministically regardless of goroutine
// scheduling order, since summation over a fixed set of numbers does not
// depend on the order they're added.
package validator

import (
	"context"
	"sync"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/vm"
)

// Config bounds gas consumption for one Validate call.
type Config struct {
	// GasLimit is the total gas budget given to each SolutionPart.
	GasLimit uint64
	// GasPerOpCeiling caps the cost of any single VM operation,
	// independent of how much of GasLimit remains.
	GasPerOpCeiling uint64
}

// Validator runs the two-VM contract against a state snapshot.
type Validator struct {
	stateReadVM  vm.StateReadVM
	constraintVM vm.ConstraintVM
	cfg          Config
}

// New constructs a Validator. The same instance is safe to call Validate
// on concurrently, and is meant to be shared by the builder, the pool's
// advisory dry-validation, and the query service.
func New(stateReadVM vm.StateReadVM, constraintVM vm.ConstraintVM, cfg Config) *Validator {
	return &Validator{stateReadVM: stateReadVM, constraintVM: constraintVM, cfg: cfg}
}

// PartOutcome is the validation result of a single SolutionPart.
type PartOutcome struct {
	Predicate types.PredicateAddress
	Satisfied bool
	Utility   float64
	Gas       uint64
	ReadSlots []types.KV
	Reason    string
}

// Outcome is the aggregate result of validating every part of a Solution.
// A Solution is satisfied only if every one of its parts is.
type Outcome struct {
	Satisfied bool
	Utility   float64
	Gas       uint64
	Parts     []PartOutcome
}

// Validate resolves and runs every SolutionPart of solution against snap
// in parallel, then aggregates. It returns a non-nil error only for
// conditions the taxonomy does not treat as an ordinary validation
// failure — a storage error surfacing from snap, or an internal
// consistency violation. Predicate-not-found, unsatisfied constraints,
// gas exhaustion, and malformed bytecode all surface as a part with
// Satisfied=false in the returned Outcome, never as an error.
func (v *Validator) Validate(ctx context.Context, snap storage.Snapshot, solution types.Solution) (Outcome, error) {
	parts := make([]PartOutcome, len(solution.Data))
	errs2 := make([]error, len(solution.Data))

	var wg sync.WaitGroup
	for i := range solution.Data {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			parts[i], errs2[i] = v.validatePart(ctx, snap, solution.Data[i])
		}(i)
	}
	wg.Wait()

	for _, err := range errs2 {
		if err != nil {
			return Outcome{}, err
		}
	}

	out := Outcome{Satisfied: true, Parts: parts}
	for _, p := range parts {
		if !p.Satisfied {
			out.Satisfied = false
		}
		out.Utility += p.Utility
		out.Gas += p.Gas
	}
	return out, nil
}

func (v *Validator) validatePart(ctx context.Context, snap storage.Snapshot, part types.SolutionPart) (PartOutcome, error) {
	select {
	case <-ctx.Done():
		return PartOutcome{}, errs.Cancelledf("validate predicate %s: %v", part.PredicateToSolve, ctx.Err())
	default:
	}

	outcome := PartOutcome{Predicate: part.PredicateToSolve}

	predicate, ok, err := snap.GetPredicate(ctx, part.PredicateToSolve.Contract, part.PredicateToSolve.Predicate)
	if err != nil {
		return PartOutcome{}, errs.Storagef(err, "resolve predicate %s", part.PredicateToSolve)
	}
	if !ok {
		outcome.Reason = "predicate not found"
		return outcome, nil
	}

	gas := vm.NewGasMeter(v.cfg.GasLimit, v.cfg.GasPerOpCeiling)

	readSlots, err := v.stateReadVM.ReadState(ctx, predicate.StateReadPrograms, snap, part.PredicateToSolve.Contract, part.DecisionVariables, gas)
	if err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindValidation {
			outcome.Reason = err.Error()
			outcome.Gas = gas.Used()
			return outcome, nil
		}
		return PartOutcome{}, err
	}
	outcome.ReadSlots = readSlots

	input := vm.ConstraintInput{
		DecisionVariables: part.DecisionVariables,
		TransientData:     part.TransientData,
		ReadSlots:         readSlots,
		ProposedMutations: part.StateMutations,
	}
	satisfied, utility, err := v.constraintVM.CheckConstraints(ctx, predicate.ConstraintPrograms, input, gas)
	outcome.Gas = gas.Used()
	if err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.KindValidation {
			outcome.Reason = err.Error()
			return outcome, nil
		}
		return PartOutcome{}, err
	}

	outcome.Satisfied = satisfied
	outcome.Utility = utility
	if !satisfied && outcome.Reason == "" {
		outcome.Reason = "constraint not satisfied"
	}
	return outcome, nil
}
