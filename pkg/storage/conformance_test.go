package storage

import (
	"context"
	"testing"

	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConformanceSuite exercises the behavioral contract every Store
// implementation must satisfy, independent of backend. Individual
// backend test files call this with their own fresh, empty instance.
func runConformanceSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PutContractIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		contract := testContract(t, "alpha")

		require.NoError(t, s.PutContract(ctx, contract, []byte("sig-1")))
		require.NoError(t, s.PutContract(ctx, contract, []byte("sig-2")))

		signed, ok, err := s.GetContract(ctx, contract.Address())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("sig-1"), signed.Signature)
	})

	t.Run("GetPredicateResolvesDeployedPredicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		contract := testContract(t, "beta")
		require.NoError(t, s.PutContract(ctx, contract, []byte("sig")))

		for _, pred := range contract.Predicates {
			got, ok, err := s.GetPredicate(ctx, contract.Address(), pred.Address())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, pred.StateReadPrograms, got.StateReadPrograms)
		}

		_, ok, err := s.GetPredicate(ctx, contract.Address(), types.ContentAddress{0xff})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("StateRoundTripsAndEmptyValueDeletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		contract := testContract(t, "gamma").Address()
		key := types.Key{1, 2, 3}

		prev, err := s.UpdateState(ctx, contract, key, types.Value{42})
		require.NoError(t, err)
		assert.True(t, prev.Empty())

		got, err := s.QueryState(ctx, contract, key)
		require.NoError(t, err)
		assert.Equal(t, types.Value{42}, got)

		prev, err = s.UpdateState(ctx, contract, key, types.Value{})
		require.NoError(t, err)
		assert.Equal(t, types.Value{42}, prev)

		got, err = s.QueryState(ctx, contract, key)
		require.NoError(t, err)
		assert.True(t, got.Empty())
	})

	t.Run("PoolInsertListRemoveIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sol := testSolution(t, "sol-1")

		require.NoError(t, s.InsertSolutionsIntoPool(ctx, []types.Solution{sol}))
		require.NoError(t, s.InsertSolutionsIntoPool(ctx, []types.Solution{sol}))

		in, err := s.SolutionInPool(ctx, sol.Address())
		require.NoError(t, err)
		assert.True(t, in)

		listed, err := s.ListSolutionsPool(ctx, Page{})
		require.NoError(t, err)
		assert.Len(t, listed, 1)

		require.NoError(t, s.RemoveSolutionsFromPool(ctx, []types.ContentAddress{sol.Address()}))
		in, err = s.SolutionInPool(ctx, sol.Address())
		require.NoError(t, err)
		assert.False(t, in)
	})

	t.Run("MoveToSolvedRecordsOutcomeAndDrainsPool", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sol := testSolution(t, "sol-2")
		require.NoError(t, s.InsertSolutionsIntoPool(ctx, []types.Solution{sol}))

		require.NoError(t, s.MoveSolutionsToSolved(ctx, 7, []types.ContentAddress{sol.Address()}))

		in, err := s.SolutionInPool(ctx, sol.Address())
		require.NoError(t, err)
		assert.False(t, in)

		outcomes, err := s.GetSolutionOutcomes(ctx, sol.Address())
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].Success)
		assert.Equal(t, uint64(7), outcomes[0].Block)
	})

	t.Run("MoveToFailedRecordsReasonAndDrainsPool", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sol := testSolution(t, "sol-3")
		require.NoError(t, s.InsertSolutionsIntoPool(ctx, []types.Solution{sol}))

		require.NoError(t, s.MoveSolutionsToFailed(ctx, []FailedSolution{{Address: sol.Address(), Reason: "gas exceeded"}}))

		outcomes, err := s.GetSolutionOutcomes(ctx, sol.Address())
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.False(t, outcomes[0].Success)
		assert.Equal(t, "gas exceeded", outcomes[0].Reason)
	})

	t.Run("CommitBlockRequiresSequentialNumbering", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.CommitBlock(ctx, BlockProposal{Block: types.Block{Number: 2}})
		assert.Error(t, err)

		require.NoError(t, s.CommitBlock(ctx, BlockProposal{Block: types.Block{Number: 1}}))
		latest, err := s.LatestBlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), latest)

		err = s.CommitBlock(ctx, BlockProposal{Block: types.Block{Number: 1}})
		assert.Error(t, err)
	})

	t.Run("CommitBlockAppliesMutationsAndDrainsSolvedSolutions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		contract := testContract(t, "delta").Address()
		sol := testSolution(t, "sol-4")
		require.NoError(t, s.InsertSolutionsIntoPool(ctx, []types.Solution{sol}))

		require.NoError(t, s.CommitBlock(ctx, BlockProposal{
			Block: types.Block{Number: 1, Solutions: []types.Solution{sol}},
			Mutations: []StateMutation{
				{Contract: contract, Key: types.Key{9}, Value: types.Value{99}},
			},
			Solved: []types.ContentAddress{sol.Address()},
		}))

		got, err := s.QueryState(ctx, contract, types.Key{9})
		require.NoError(t, err)
		assert.Equal(t, types.Value{99}, got)

		in, err := s.SolutionInPool(ctx, sol.Address())
		require.NoError(t, err)
		assert.False(t, in)

		blocks, err := s.ListBlocks(ctx, nil, Page{}, nil)
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, uint64(1), blocks[0].Number)
	})

	t.Run("ListBlocksRespectsSinceBlockAndPaging", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := uint64(1); i <= 3; i++ {
			require.NoError(t, s.CommitBlock(ctx, BlockProposal{Block: types.Block{Number: i}}))
		}

		since := uint64(1)
		blocks, err := s.ListBlocks(ctx, nil, Page{}, &since)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		assert.Equal(t, uint64(2), blocks[0].Number)
		assert.Equal(t, uint64(3), blocks[1].Number)

		paged, err := s.ListBlocks(ctx, nil, Page{Offset: 1, Limit: 1}, nil)
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, uint64(2), paged[0].Number)
	})

	t.Run("SnapshotReadsAreIndependentOfLaterWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		contract := testContract(t, "epsilon").Address()
		_, err := s.UpdateState(ctx, contract, types.Key{1}, types.Value{1})
		require.NoError(t, err)

		snap, err := s.NewSnapshot(ctx)
		require.NoError(t, err)
		if closer, ok := snap.(interface{ Close() error }); ok {
			defer closer.Close()
		}

		_, err = s.UpdateState(ctx, contract, types.Key{1}, types.Value{2})
		require.NoError(t, err)

		got, err := snap.QueryState(ctx, contract, types.Key{1})
		require.NoError(t, err)
		assert.Equal(t, types.Value{1}, got)
	})
}

func testContract(t *testing.T, salt string) types.Contract {
	t.Helper()
	var s [32]byte
	copy(s[:], salt)
	return types.Contract{
		Predicates: []types.Predicate{
			{
				StateReadPrograms:  [][]byte{[]byte("read-" + salt)},
				ConstraintPrograms: [][]byte{[]byte("check-" + salt)},
			},
		},
		Salt: s,
	}
}

func testSolution(t *testing.T, tag string) types.Solution {
	t.Helper()
	return types.Solution{
		Data: []types.SolutionPart{
			{
				PredicateToSolve: types.PredicateAddress{
					Contract:  types.ComputeAddress([]byte(tag + "-contract")),
					Predicate: types.ComputeAddress([]byte(tag + "-predicate")),
				},
				DecisionVariables: []types.Value{{1, 2}},
			},
		},
	}
}
