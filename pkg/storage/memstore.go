package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// MemStore is a plain in-memory Store, used for tests and the `--db
// memory` CLI mode. It mirrors the teacher's BoltStore method shape but
// keeps everything in Go maps behind a single mutex — there is no
// durability and no need for one: it exists to make the contract cheap to
// exercise, not to survive a restart.
type MemStore struct {
	mu sync.RWMutex

	contracts map[types.ContentAddress]*types.SignedContract
	contractOrder []types.ContentAddress
	contractTime  map[types.ContentAddress]time.Time

	predicates map[types.ContentAddress]map[types.ContentAddress]*types.Predicate

	state map[types.ContentAddress]map[string]types.Value

	pool      map[types.ContentAddress]types.Solution
	poolOrder []types.ContentAddress

	outcomes map[types.ContentAddress][]types.SolutionOutcome

	blocks      []types.Block
	blockByTime map[uint64]time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		contracts:     make(map[types.ContentAddress]*types.SignedContract),
		contractTime:  make(map[types.ContentAddress]time.Time),
		predicates:    make(map[types.ContentAddress]map[types.ContentAddress]*types.Predicate),
		state:         make(map[types.ContentAddress]map[string]types.Value),
		pool:          make(map[types.ContentAddress]types.Solution),
		outcomes:      make(map[types.ContentAddress][]types.SolutionOutcome),
		blockByTime:   make(map[uint64]time.Time),
	}
}

func keyString(k types.Key) string {
	// Keys are short word sequences; a fixed-width encoding keeps distinct
	// keys from colliding the way naive string concatenation could.
	b := make([]byte, len(k)*8)
	for i, w := range k {
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(w >> (56 - 8*j))
		}
	}
	return string(b)
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) PutContract(ctx context.Context, contract types.Contract, signature []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := contract.Address()
	if _, exists := m.contracts[addr]; exists {
		return nil // idempotent no-op per the invariant in spec §3
	}

	m.contracts[addr] = &types.SignedContract{Contract: contract, Signature: signature}
	m.contractOrder = append(m.contractOrder, addr)
	m.contractTime[addr] = time.Now()

	preds := make(map[types.ContentAddress]*types.Predicate, len(contract.Predicates))
	for i := range contract.Predicates {
		p := contract.Predicates[i]
		preds[p.Address()] = &p
	}
	m.predicates[addr] = preds
	if _, ok := m.state[addr]; !ok {
		m.state[addr] = make(map[string]types.Value)
	}
	return nil
}

func (m *MemStore) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[addr]
	return c, ok, nil
}

func (m *MemStore) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	preds, ok := m.predicates[contract]
	if !ok {
		return nil, false, nil
	}
	p, ok := preds[predicate]
	return p, ok, nil
}

func (m *MemStore) ListContracts(ctx context.Context, tr *TimeRange, page Page) ([]types.SignedContract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.SignedContract
	for _, addr := range m.contractOrder {
		if !tr.contains(m.contractTime[addr]) {
			continue
		}
		out = append(out, *m.contracts[addr])
	}
	return paginateContracts(out, page), nil
}

func paginateContracts(all []types.SignedContract, page Page) []types.SignedContract {
	if page.Offset >= len(all) {
		return nil
	}
	end := len(all)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return all[page.Offset:end]
}

func (m *MemStore) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cells, ok := m.state[contract]
	if !ok {
		return types.Value{}, nil
	}
	v, ok := cells[keyString(key)]
	if !ok {
		return types.Value{}, nil
	}
	return v.Clone(), nil
}

func (m *MemStore) UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cells, ok := m.state[contract]
	if !ok {
		cells = make(map[string]types.Value)
		m.state[contract] = cells
	}
	ks := keyString(key)
	prev := cells[ks]

	if value.Empty() {
		delete(cells, ks)
	} else {
		cells[ks] = value.Clone()
	}
	return prev, nil
}

func (m *MemStore) InsertSolutionsIntoPool(ctx context.Context, solutions []types.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range solutions {
		addr := s.Address()
		if _, exists := m.pool[addr]; exists {
			continue
		}
		m.pool[addr] = s
		m.poolOrder = append(m.poolOrder, addr)
	}
	return nil
}

func (m *MemStore) SolutionInPool(ctx context.Context, addr types.ContentAddress) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pool[addr]
	return ok, nil
}

func (m *MemStore) RemoveSolutionsFromPool(ctx context.Context, addrs []types.ContentAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeFromPoolLocked(addrs)
	return nil
}

func (m *MemStore) removeFromPoolLocked(addrs []types.ContentAddress) {
	remove := make(map[types.ContentAddress]bool, len(addrs))
	for _, a := range addrs {
		remove[a] = true
		delete(m.pool, a)
	}
	if len(remove) == 0 {
		return
	}
	kept := m.poolOrder[:0:0]
	for _, a := range m.poolOrder {
		if !remove[a] {
			kept = append(kept, a)
		}
	}
	m.poolOrder = kept
}

func (m *MemStore) ListSolutionsPool(ctx context.Context, page Page) ([]types.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]types.Solution, 0, len(m.poolOrder))
	for _, addr := range m.poolOrder {
		all = append(all, m.pool[addr])
	}
	if page.Offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return all[page.Offset:end], nil
}

func (m *MemStore) MoveSolutionsToSolved(ctx context.Context, blockNumber uint64, addrs []types.ContentAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, addr := range addrs {
		m.outcomes[addr] = append(m.outcomes[addr], types.SucceededOutcome(blockNumber, now))
	}
	m.removeFromPoolLocked(addrs)
	return nil
}

func (m *MemStore) MoveSolutionsToFailed(ctx context.Context, failures []FailedSolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	addrs := make([]types.ContentAddress, 0, len(failures))
	for _, f := range failures {
		m.outcomes[f.Address] = append(m.outcomes[f.Address], types.FailedOutcome(f.Reason, now))
		addrs = append(addrs, f.Address)
	}
	m.removeFromPoolLocked(addrs)
	return nil
}

func (m *MemStore) GetSolutionOutcomes(ctx context.Context, addr types.ContentAddress) ([]types.SolutionOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SolutionOutcome, len(m.outcomes[addr]))
	copy(out, m.outcomes[addr])
	return out, nil
}

func (m *MemStore) ListBlocks(ctx context.Context, tr *TimeRange, page Page, sinceBlock *uint64) ([]types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Block
	for _, b := range m.blocks {
		if sinceBlock != nil && b.Number <= *sinceBlock {
			continue
		}
		if !tr.contains(m.blockByTime[b.Number]) {
			continue
		}
		out = append(out, b)
	}
	if page.Offset >= len(out) {
		return nil, nil
	}
	end := len(out)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return out[page.Offset:end], nil
}

func (m *MemStore) LatestBlockNumber(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.blocks) == 0 {
		return 0, nil
	}
	return m.blocks[len(m.blocks)-1].Number, nil
}

func (m *MemStore) CommitBlock(ctx context.Context, proposal BlockProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := uint64(0)
	if len(m.blocks) > 0 {
		latest = m.blocks[len(m.blocks)-1].Number
	}
	if proposal.Block.Number != latest+1 {
		return errs.Consistencyf(nil, "commit block %d out of order, latest is %d", proposal.Block.Number, latest)
	}

	for _, mut := range proposal.Mutations {
		cells, ok := m.state[mut.Contract]
		if !ok {
			cells = make(map[string]types.Value)
			m.state[mut.Contract] = cells
		}
		ks := keyString(mut.Key)
		if mut.Value.Empty() {
			delete(cells, ks)
		} else {
			cells[ks] = mut.Value.Clone()
		}
	}

	now := time.Now()
	for _, addr := range proposal.Solved {
		m.outcomes[addr] = append(m.outcomes[addr], types.SucceededOutcome(proposal.Block.Number, now))
	}
	for _, f := range proposal.Failed {
		m.outcomes[f.Address] = append(m.outcomes[f.Address], types.FailedOutcome(f.Reason, now))
	}
	removed := append([]types.ContentAddress{}, proposal.Solved...)
	for _, f := range proposal.Failed {
		removed = append(removed, f.Address)
	}
	m.removeFromPoolLocked(removed)

	m.blocks = append(m.blocks, proposal.Block)
	m.blockByTime[proposal.Block.Number] = now
	return nil
}

// NewSnapshot copies the contract, predicate and state tables under the
// read lock into a separate MemStore, so writes made to the live store
// afterwards are not visible through the snapshot. Stored values are
// never mutated in place, so the copy shares them.
func (m *MemStore) NewSnapshot(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := NewMemStore()
	for addr, c := range m.contracts {
		snap.contracts[addr] = c
		snap.predicates[addr] = m.predicates[addr]
	}
	for addr, cells := range m.state {
		copied := make(map[string]types.Value, len(cells))
		for k, v := range cells {
			copied[k] = v
		}
		snap.state[addr] = copied
	}
	return snap, nil
}

var _ Store = (*MemStore)(nil)
