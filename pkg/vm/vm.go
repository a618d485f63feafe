// Package vm hosts the two-VM contract predicates execute against (C3's
// execution half): a state-read VM that turns a predicate's state-read
// programs into an ordered list of (Key, Value) read slots, and a
// constraint VM that turns its constraint programs into a satisfied/
// unsatisfied verdict plus a utility score. Both are pure functions of
// their inputs — same bytecode, same arguments, same state snapshot
// always yields the same result, which is what lets the validator fan
// candidate solutions out across goroutines safely.
package vm

import (
	"context"

	"github.com/ledgerproto/ledgerd/pkg/types"
)

// StateReader is the read-only state surface a state-read program may
// query. Both storage.Snapshot and *overlay.Overlay satisfy the shape of
// the single method this package needs.
type StateReader interface {
	QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error)
}

// ConstraintInput is everything a predicate's constraint programs may
// reference: the solution part's own proposed values, the read slots its
// sibling state-read programs produced, and the mutations it proposes to
// the state it governs.
type ConstraintInput struct {
	DecisionVariables []types.Value
	TransientData     []types.KV
	ReadSlots         []types.KV
	ProposedMutations []types.KV
}

// StateReadVM executes a predicate's ordered state-read programs against
// reader and decisionVars, returning the ordered read slots they declare.
// gas is shared across every program in the predicate and across every
// predicate in the solution part — the caller owns its lifetime.
type StateReadVM interface {
	ReadState(ctx context.Context, programs [][]byte, reader StateReader, contract types.ContentAddress, decisionVars []types.Value, gas *GasMeter) ([]types.KV, error)
}

// ConstraintVM executes a predicate's ordered constraint programs against
// input, returning whether every program was satisfied and the summed
// utility they reported. A program that does not explicitly report
// satisfaction is treated as unsatisfied — silence is failure, not a free
// pass.
type ConstraintVM interface {
	CheckConstraints(ctx context.Context, programs [][]byte, input ConstraintInput, gas *GasMeter) (satisfied bool, utility float64, err error)
}
