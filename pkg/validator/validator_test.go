package validator

import (
	"context"
	"testing"

	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateReadVM struct {
	slots []types.KV
	err   error
}

func (f fakeStateReadVM) ReadState(ctx context.Context, programs [][]byte, reader vm.StateReader, contract types.ContentAddress, decisionVars []types.Value, gas *vm.GasMeter) ([]types.KV, error) {
	gas.Consume(1)
	return f.slots, f.err
}

type fakeConstraintVM struct {
	satisfied bool
	utility   float64
	err       error
}

func (f fakeConstraintVM) CheckConstraints(ctx context.Context, programs [][]byte, input vm.ConstraintInput, gas *vm.GasMeter) (bool, float64, error) {
	gas.Consume(1)
	return f.satisfied, f.utility, f.err
}

func deployTestPredicate(t *testing.T, store storage.Store) types.PredicateAddress {
	t.Helper()
	predicate := types.Predicate{StateReadPrograms: [][]byte{{}}, ConstraintPrograms: [][]byte{{}}}
	contract := types.Contract{Predicates: []types.Predicate{predicate}}
	require.NoError(t, store.PutContract(context.Background(), contract, nil))
	return types.PredicateAddress{Contract: contract.Address(), Predicate: predicate.Address()}
}

func TestValidateAllPartsSatisfiedAggregatesUtilityAndGas(t *testing.T) {
	store := storage.NewMemStore()
	predAddr := deployTestPredicate(t, store)
	snap, err := store.NewSnapshot(context.Background())
	require.NoError(t, err)

	v := New(fakeStateReadVM{}, fakeConstraintVM{satisfied: true, utility: 3.0}, Config{GasLimit: 1000})
	solution := types.Solution{Data: []types.SolutionPart{
		{PredicateToSolve: predAddr},
		{PredicateToSolve: predAddr},
	}}

	outcome, err := v.Validate(context.Background(), snap, solution)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)
	assert.Equal(t, 6.0, outcome.Utility)
	assert.Equal(t, uint64(4), outcome.Gas) // 2 parts * (1 read + 1 constraint)
}

func TestValidateOnePartUnsatisfiedFailsWholeSolution(t *testing.T) {
	store := storage.NewMemStore()
	predAddr := deployTestPredicate(t, store)
	snap, err := store.NewSnapshot(context.Background())
	require.NoError(t, err)

	v := New(fakeStateReadVM{}, fakeConstraintVM{satisfied: false}, Config{GasLimit: 1000})
	solution := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}

	outcome, err := v.Validate(context.Background(), snap, solution)
	require.NoError(t, err)
	assert.False(t, outcome.Satisfied)
	require.Len(t, outcome.Parts, 1)
	assert.Equal(t, "constraint not satisfied", outcome.Parts[0].Reason)
}

func TestValidateMissingPredicateIsNonFatal(t *testing.T) {
	store := storage.NewMemStore()
	snap, err := store.NewSnapshot(context.Background())
	require.NoError(t, err)

	v := New(fakeStateReadVM{}, fakeConstraintVM{satisfied: true}, Config{GasLimit: 1000})
	solution := types.Solution{Data: []types.SolutionPart{
		{PredicateToSolve: types.PredicateAddress{}},
	}}

	outcome, err := v.Validate(context.Background(), snap, solution)
	require.NoError(t, err)
	assert.False(t, outcome.Satisfied)
	assert.Equal(t, "predicate not found", outcome.Parts[0].Reason)
}

func TestValidateWithRealStackVM(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	// A predicate whose constraint program always reports satisfied,
	// exercising the real interpreter end-to-end.
	code := []byte{byte(vm.OpPushWord)}
	code = appendWord(code, 1)
	code = append(code, byte(vm.OpReturnBool), byte(vm.OpHalt))
	contract := types.Contract{Predicates: []types.Predicate{
		{ConstraintPrograms: [][]byte{code}},
	}}
	require.NoError(t, store.PutContract(ctx, contract, nil))
	predAddr := types.PredicateAddress{Contract: contract.Address(), Predicate: contract.Predicates[0].Address()}

	snap, err := store.NewSnapshot(ctx)
	require.NoError(t, err)

	stackVM := vm.NewStackVM()
	v := New(stackVM, stackVM, Config{GasLimit: 10_000})
	outcome, err := v.Validate(ctx, snap, types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}})
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)
}

func appendWord(code []byte, w uint64) []byte {
	for i := 7; i >= 0; i-- {
		code = append(code, byte(w>>(8*uint(i))))
	}
	return code
}
