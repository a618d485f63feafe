// Package overlay implements the transactional staging layer (C2) that
// sits between the validator/builder and the committed Store: a
// read-through journal with overlay precedence, stackable so one block
// tick can validate many candidate solutions against an isolated view and
// fold or discard each one without ever touching the underlying Store.
package overlay

import (
	"context"
	"sync"

	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

type cellAddr struct {
	contract types.ContentAddress
	key      string
}

func encodeKey(k types.Key) string {
	b := make([]byte, len(k)*8)
	for i, w := range k {
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(w >> (56 - 8*j))
		}
	}
	return string(b)
}

type cellValue struct {
	key   types.Key
	value types.Value
}

// Overlay is one level of the staging stack. The root overlay for a tick
// wraps a storage.Snapshot; every Push returns a child overlay whose
// writes are invisible to siblings and to the parent until Fold is
// called. Overlay itself satisfies storage.Snapshot, so a child overlay's
// reads fall through its parent exactly the way the parent's reads fall
// through the base snapshot.
type Overlay struct {
	mu      sync.RWMutex
	root    storage.Snapshot
	parent  *Overlay
	journal map[cellAddr]cellValue
}

// New creates the root overlay of a tick over snap.
func New(snap storage.Snapshot) *Overlay {
	return &Overlay{root: snap, journal: make(map[cellAddr]cellValue)}
}

// Push returns a new overlay layered on top of o. Writes made through the
// child are invisible to o until the child is folded.
func (o *Overlay) Push() *Overlay {
	return &Overlay{root: o.root, parent: o, journal: make(map[cellAddr]cellValue)}
}

// QueryState resolves a read with overlay precedence: this layer's
// journal first, then the parent layer, then the base snapshot.
func (o *Overlay) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	o.mu.RLock()
	cv, ok := o.journal[cellAddr{contract: contract, key: encodeKey(key)}]
	o.mu.RUnlock()
	if ok {
		return cv.value.Clone(), nil
	}
	if o.parent != nil {
		return o.parent.QueryState(ctx, contract, key)
	}
	return o.root.QueryState(ctx, contract, key)
}

// GetContract and GetPredicate always resolve against the base snapshot:
// contracts are deployed independently of block building and are never
// staged through the overlay.
func (o *Overlay) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	return o.root.GetContract(ctx, addr)
}

func (o *Overlay) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	return o.root.GetPredicate(ctx, contract, predicate)
}

// Write stages a mutation at (contract, key) in this layer only. Writing
// an empty Value stages a delete, consistent with the Store contract.
func (o *Overlay) Write(contract types.ContentAddress, key types.Key, value types.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.journal[cellAddr{contract: contract, key: encodeKey(key)}] = cellValue{key: key.Clone(), value: value.Clone()}
}

// Fold merges o's journal into its parent and clears o. It is the success
// path for a validated candidate: everything it staged becomes visible to
// the next candidate in the same tick. Fold panics if o has no parent —
// the root overlay of a tick is never folded, only flattened into a
// BlockProposal by Mutations.
func (o *Overlay) Fold() {
	if o.parent == nil {
		panic("overlay: Fold called on a root overlay")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parent.mu.Lock()
	defer o.parent.mu.Unlock()
	for addr, cv := range o.journal {
		o.parent.journal[addr] = cv
	}
	o.journal = make(map[cellAddr]cellValue)
}

// Discard drops o's staged writes. It exists as the explicit, symmetric
// counterpart to Fold — the failure path for a candidate whose
// validation did not succeed. It performs no I/O.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.journal = nil
}

// Mutations flattens this overlay's journal into the StateMutation list a
// BlockProposal needs. It is meant to be called on the tick's root
// overlay after every candidate has been folded or discarded.
func (o *Overlay) Mutations() []storage.StateMutation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]storage.StateMutation, 0, len(o.journal))
	for addr, cv := range o.journal {
		out = append(out, storage.StateMutation{Contract: addr.contract, Key: cv.key, Value: cv.value})
	}
	return out
}

var _ storage.Snapshot = (*Overlay)(nil)
