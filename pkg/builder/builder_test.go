package builder

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/pool"
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

func deployPredicate(t *testing.T, store storage.Store, satisfied bool) types.PredicateAddress {
	t.Helper()
	var code []byte
	if satisfied {
		code = append(code, byte(vm.OpPushWord))
		code = appendWord(code, 1)
	} else {
		code = append(code, byte(vm.OpPushWord))
		code = appendWord(code, 0)
	}
	code = append(code, byte(vm.OpReturnBool), byte(vm.OpHalt))

	predicate := types.Predicate{ConstraintPrograms: [][]byte{code}}
	contract := types.Contract{Predicates: []types.Predicate{predicate}}
	require.NoError(t, store.PutContract(context.Background(), contract, nil))
	return types.PredicateAddress{Contract: contract.Address(), Predicate: predicate.Address()}
}

func testBuilder(store storage.Store) (*Builder, *pool.Pool) {
	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	p := pool.New(store, nil, pool.Config{})
	b := New(store, p, valid, Config{TickPeriod: time.Hour})
	return b, p
}

func TestTickCommitsBlockWithSatisfiedSolutions(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	b, p := testBuilder(store)

	predAddr := deployPredicate(t, store, true)
	sol := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}
	_, err := p.Submit(ctx, sol)
	require.NoError(t, err)

	require.NoError(t, b.Tick(ctx))

	latest, err := store.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest)

	blocks, err := store.ListBlocks(ctx, nil, storage.Page{}, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Solutions, 1)

	inPool, err := store.SolutionInPool(ctx, sol.Address())
	require.NoError(t, err)
	assert.False(t, inPool)
}

func TestTickSkipsBlockWhenAllSolutionsFail(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	b, p := testBuilder(store)

	predAddr := deployPredicate(t, store, false)
	sol := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr}}}
	_, err := p.Submit(ctx, sol)
	require.NoError(t, err)

	require.NoError(t, b.Tick(ctx))

	latest, err := store.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest)

	inPool, err := store.SolutionInPool(ctx, sol.Address())
	require.NoError(t, err)
	assert.False(t, inPool, "failed solution should have been moved out of the pool")

	outcomes, err := store.GetSolutionOutcomes(ctx, sol.Address())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
}

func TestTickOrdersSolvedSolutionsByContentAddress(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	b, p := testBuilder(store)

	predAddr := deployPredicate(t, store, true)
	solA := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr, TransientData: []types.KV{{Key: types.Key{1}}}}}}
	solB := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr, TransientData: []types.KV{{Key: types.Key{2}}}}}}

	_, err := p.Submit(ctx, solA)
	require.NoError(t, err)
	_, err = p.Submit(ctx, solB)
	require.NoError(t, err)

	require.NoError(t, b.Tick(ctx))

	blocks, err := store.ListBlocks(ctx, nil, storage.Page{}, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Solutions, 2)

	first, second := blocks[0].Solutions[0].Address(), blocks[0].Solutions[1].Address()
	assert.True(t, first.Less(second))
}

func TestTickRespectsMaxSolutionsPerBlock(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	stackVM := vm.NewStackVM()
	valid := validator.New(stackVM, stackVM, validator.Config{GasLimit: 10_000})
	p := pool.New(store, nil, pool.Config{})
	b := New(store, p, valid, Config{TickPeriod: time.Hour, MaxSolutionsPerBlock: 1})

	predAddr := deployPredicate(t, store, true)
	solA := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr, TransientData: []types.KV{{Key: types.Key{1}}}}}}
	solB := types.Solution{Data: []types.SolutionPart{{PredicateToSolve: predAddr, TransientData: []types.KV{{Key: types.Key{2}}}}}}
	_, err := p.Submit(ctx, solA)
	require.NoError(t, err)
	_, err = p.Submit(ctx, solB)
	require.NoError(t, err)

	require.NoError(t, b.Tick(ctx))

	blocks, err := store.ListBlocks(ctx, nil, storage.Page{}, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Solutions, 1)

	listed, err := p.List(ctx, storage.Page{})
	require.NoError(t, err)
	assert.Len(t, listed, 1, "the unbuilt candidate should remain in the pool for the next tick")
}

func TestTickIsNoopWithEmptyPool(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()
	b, _ := testBuilder(store)

	require.NoError(t, b.Tick(ctx))

	latest, err := store.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest)
}

func TestStartStopRunsAndStopsCleanly(t *testing.T) {
	store := storage.NewMemStore()
	b, _ := testBuilder(store)
	b.cfg.TickPeriod = 5 * time.Millisecond

	b.Start()
	time.Sleep(20 * time.Millisecond)
	b.Stop()
}
