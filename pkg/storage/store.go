// Package storage defines the abstract persistence contract the engine is
// built against (C1) and the backends that satisfy it. The contract is a
// capability set, not an inheritance tree: any type providing these
// operations is a storage backend for the purposes of the rest of the
// engine. MemStore, BoltStore, and SQLStore are three such backends.
package storage

import (
	"context"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/types"
)

// Page requests one page of a listing: Offset entries are skipped and at
// most Limit are returned (zero means no limit). Each listing method sets
// its own order.
type Page struct {
	Offset int
	Limit  int
}

// TimeRange optionally bounds a listing by wall-clock time. A zero value
// for either bound means unbounded on that side.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r *TimeRange) contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// FailedSolution pairs a solution's content address with the reason its
// validation failed, for the pool-to-failed transition.
type FailedSolution struct {
	Address types.ContentAddress
	Reason  string
}

// StateMutation is one staged write (or, when Value is empty, delete)
// against a single contract's state, destined for CommitBlock.
type StateMutation struct {
	Contract types.ContentAddress
	Key      types.Key
	Value    types.Value
}

// BlockProposal is everything one builder tick assembled and wants
// committed atomically: the new block itself, every state mutation staged
// by its successful solutions (including the block-state contract's own
// update), and the solved/failed pool transitions that go with it.
type BlockProposal struct {
	Block     types.Block
	Mutations []StateMutation
	Solved    []types.ContentAddress
	Failed    []FailedSolution
}

// Snapshot is an immutable, read-only, point-in-time view of committed
// state. It never blocks the writer and never observes a partially
// committed block. Snapshots are safe for concurrent use.
type Snapshot interface {
	QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error)
	GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error)
	GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error)
}

// Store is the storage contract (C1): the lowest-level persistence
// interface the rest of the engine is built against. Every operation may
// fail with a *errs.Error of KindStorage. Implementations must provide
// linearizable single-shot operations and an atomic CommitBlock.
type Store interface {
	Snapshot

	// PutContract is idempotent on content-address collision: a second
	// deployment of the same contract is a silent no-op success.
	PutContract(ctx context.Context, contract types.Contract, signature []byte) error
	ListContracts(ctx context.Context, tr *TimeRange, page Page) ([]types.SignedContract, error)

	// UpdateState writes value at (contract, key) and returns the value
	// that was there before. Writing an empty Value deletes the cell.
	UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error)

	InsertSolutionsIntoPool(ctx context.Context, solutions []types.Solution) error
	ListSolutionsPool(ctx context.Context, page Page) ([]types.Solution, error)
	// SolutionInPool reports whether addr is currently queued, used by the
	// pool for its idempotent-submit check.
	SolutionInPool(ctx context.Context, addr types.ContentAddress) (bool, error)
	RemoveSolutionsFromPool(ctx context.Context, addrs []types.ContentAddress) error

	MoveSolutionsToSolved(ctx context.Context, blockNumber uint64, addrs []types.ContentAddress) error
	MoveSolutionsToFailed(ctx context.Context, failures []FailedSolution) error
	GetSolutionOutcomes(ctx context.Context, addr types.ContentAddress) ([]types.SolutionOutcome, error)

	ListBlocks(ctx context.Context, tr *TimeRange, page Page, sinceBlock *uint64) ([]types.Block, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// CommitBlock atomically assigns the block, moves its solutions from
	// pool to solved/failed, persists the staged mutations, and updates
	// the block-state contract. Partial application is a fatal
	// (KindConsistency) condition the caller must never observe.
	CommitBlock(ctx context.Context, proposal BlockProposal) error

	// NewSnapshot returns an immutable view of committed state as of now.
	NewSnapshot(ctx context.Context) (Snapshot, error)

	Close() error
}
