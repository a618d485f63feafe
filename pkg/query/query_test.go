package query

import (
	"context"
	"testing"

	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/ledgerproto/ledgerd/pkg/validator"
	"github.com/ledgerproto/ledgerd/pkg/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendWord(code []byte, w uint64) []byte {
	for i := 7; i >= 0; i-- {
		code = append(code, byte(w>>(8*uint(i))))
	}
	return code
}

func TestQueryStateReadsAfterCommit(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	_, err := store.UpdateState(ctx, types.ComputeAddress([]byte("c")), types.Key{1}, types.Value{42})
	require.NoError(t, err)

	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	svc := New(store, valid, stackVM)

	value, err := svc.QueryState(ctx, types.ComputeAddress([]byte("c")), types.Key{1})
	require.NoError(t, err)
	assert.Equal(t, types.Value{42}, value)
}

func TestCheckSolutionDoesNotAdmitToPool(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	code := []byte{byte(vm.OpPushWord)}
	code = appendWord(code, 1)
	code = append(code, byte(vm.OpReturnBool), byte(vm.OpHalt))
	predicate := types.Predicate{ConstraintPrograms: [][]byte{code}}
	contract := types.Contract{Predicates: []types.Predicate{predicate}}
	require.NoError(t, store.PutContract(ctx, contract, nil))
	predAddr := types.PredicateAddress{Contract: contract.Address(), Predicate: predicate.Address()}

	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	svc := New(store, valid, stackVM)

	sol := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}
	outcome, err := svc.CheckSolution(ctx, sol)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)

	inPool, err := store.SolutionInPool(ctx, sol.Address())
	require.NoError(t, err)
	assert.False(t, inPool)
}

func TestCheckSolutionWithContractsResolvesAdhocPredicate(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	code := []byte{byte(vm.OpPushWord)}
	code = appendWord(code, 1)
	code = append(code, byte(vm.OpReturnBool), byte(vm.OpHalt))
	predicate := types.Predicate{ConstraintPrograms: [][]byte{code}}
	contract := types.Contract{Predicates: []types.Predicate{predicate}}
	predAddr := types.PredicateAddress{Contract: contract.Address(), Predicate: predicate.Address()}

	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	svc := New(store, valid, stackVM)

	sol := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}
	outcome, err := svc.CheckSolutionWithContracts(ctx, sol, []types.Contract{contract})
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied)

	_, found, err := store.GetContract(ctx, contract.Address())
	require.NoError(t, err)
	assert.False(t, found, "adhoc contract must never be persisted")
}

func TestQueryStateReadsReturnsSlotsAndReads(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	var code []byte
	code = append(code, byte(vm.OpPushWord))
	code = appendWord(code, 5)
	code = append(code, byte(vm.OpPushWord))
	code = appendWord(code, 1)
	code = append(code, byte(vm.OpReadState), byte(vm.OpHalt))

	predicate := types.Predicate{StateReadPrograms: [][]byte{code}}
	contract := types.Contract{Predicates: []types.Predicate{predicate}}
	require.NoError(t, store.PutContract(ctx, contract, nil))
	contractAddr := contract.Address()
	_, err := store.UpdateState(ctx, contractAddr, types.Key{5}, types.Value{9})
	require.NoError(t, err)
	predAddr := types.PredicateAddress{Contract: contractAddr, Predicate: predicate.Address()}

	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	svc := New(store, valid, stackVM)

	sol := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}
	result, err := svc.QueryStateReads(ctx, sol, 0, nil, RequestAll)
	require.NoError(t, err)
	require.Len(t, result.Reads, 1)
	assert.Equal(t, types.Value{9}, result.Reads[0].Value)
	require.Len(t, result.Slots, 1)
	assert.Equal(t, types.Value{9}, result.Slots[0])
}

func TestQueryStateReadsRejectsOutOfRangeIndex(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	svc := New(store, valid, stackVM)

	_, err := svc.QueryStateReads(ctx, types.Solution{}, 0, nil, RequestAll)
	assert.Error(t, err)
}
