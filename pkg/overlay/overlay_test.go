package overlay

import (
	"context"
	"testing"

	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlayReadThroughPrecedence(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewMemStore()
	contract := types.ComputeAddress([]byte("contract"))
	_, err := snap.UpdateState(ctx, contract, types.Key{1}, types.Value{10})
	require.NoError(t, err)

	root := New(snap)
	got, err := root.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.Equal(t, types.Value{10}, got)

	child := root.Push()
	child.Write(contract, types.Key{1}, types.Value{20})

	got, err = child.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.Equal(t, types.Value{20}, got)

	got, err = root.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.Equal(t, types.Value{10}, got, "writes in a child must not be visible in the parent before Fold")
}

func TestOverlayFoldMakesWritesVisibleToParent(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewMemStore()
	contract := types.ComputeAddress([]byte("contract"))

	root := New(snap)
	child := root.Push()
	child.Write(contract, types.Key{1}, types.Value{5})
	child.Fold()

	got, err := root.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.Equal(t, types.Value{5}, got)

	mutations := root.Mutations()
	require.Len(t, mutations, 1)
	assert.Equal(t, contract, mutations[0].Contract)
	assert.Equal(t, types.Value{5}, mutations[0].Value)
}

func TestOverlayDiscardDropsWrites(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewMemStore()
	contract := types.ComputeAddress([]byte("contract"))

	root := New(snap)
	child := root.Push()
	child.Write(contract, types.Key{1}, types.Value{5})
	child.Discard()

	got, err := root.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Empty(t, root.Mutations())
}

func TestOverlayEmptyValueStagesDelete(t *testing.T) {
	ctx := context.Background()
	snap := storage.NewMemStore()
	contract := types.ComputeAddress([]byte("contract"))
	_, err := snap.UpdateState(ctx, contract, types.Key{1}, types.Value{10})
	require.NoError(t, err)

	root := New(snap)
	root.Write(contract, types.Key{1}, types.Value{})

	got, err := root.QueryState(ctx, contract, types.Key{1})
	require.NoError(t, err)
	assert.True(t, got.Empty())
}
