package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketContracts    = []byte("contracts")
	bucketContractMeta = []byte("contract_meta")
	bucketPredicates   = []byte("predicates")
	bucketState        = []byte("state")
	bucketPool         = []byte("pool")
	bucketOutcomes     = []byte("outcomes")
	bucketBlocks       = []byte("blocks")
	bucketBlockMeta    = []byte("block_meta")
)

// BoltStore implements Store on top of a single bbolt file, one bucket per
// entity following the same bucket-per-kind layout as the rest of the
// engine's persistence, with nested per-contract buckets for predicates
// and state cells so a contract's data stays contiguous on disk.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "ledgerd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errs.Storagef(err, "open bolt database at %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketContracts,
			bucketContractMeta,
			bucketPredicates,
			bucketState,
			bucketPool,
			bucketOutcomes,
			bucketBlocks,
			bucketBlockMeta,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.Storagef(err, "initialize bolt buckets")
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func blockNumberKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func (s *BoltStore) PutContract(ctx context.Context, contract types.Contract, signature []byte) error {
	addr := contract.Address()
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContracts)
		if cb.Get(addr[:]) != nil {
			return nil // idempotent: already deployed
		}

		signed := types.SignedContract{Contract: contract, Signature: signature}
		data, err := json.Marshal(signed)
		if err != nil {
			return err
		}
		if err := cb.Put(addr[:], data); err != nil {
			return err
		}

		meta, err := json.Marshal(time.Now())
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketContractMeta).Put(addr[:], meta); err != nil {
			return err
		}

		predBucket, err := tx.Bucket(bucketPredicates).CreateBucketIfNotExists(addr[:])
		if err != nil {
			return err
		}
		for _, p := range contract.Predicates {
			pAddr := p.Address()
			pData, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := predBucket.Put(pAddr[:], pData); err != nil {
				return err
			}
		}

		_, err = tx.Bucket(bucketState).CreateBucketIfNotExists(addr[:])
		return err
	})
	if err != nil {
		return errs.Storagef(err, "put contract %s", addr)
	}
	return nil
}

func (s *BoltStore) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	var signed types.SignedContract
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContracts).Get(addr[:])
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &signed)
	})
	if err != nil {
		return nil, false, errs.Storagef(err, "get contract %s", addr)
	}
	if !found {
		return nil, false, nil
	}
	return &signed, true, nil
}

func (s *BoltStore) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	var pred types.Predicate
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		predBucket := tx.Bucket(bucketPredicates).Bucket(contract[:])
		if predBucket == nil {
			return nil
		}
		data := predBucket.Get(predicate[:])
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &pred)
	})
	if err != nil {
		return nil, false, errs.Storagef(err, "get predicate %s/%s", contract, predicate)
	}
	if !found {
		return nil, false, nil
	}
	return &pred, true, nil
}

func (s *BoltStore) ListContracts(ctx context.Context, tr *TimeRange, page Page) ([]types.SignedContract, error) {
	var all []types.SignedContract
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContracts)
		mb := tx.Bucket(bucketContractMeta)
		return cb.ForEach(func(k, v []byte) error {
			var deployedAt time.Time
			if metaData := mb.Get(k); metaData != nil {
				if err := json.Unmarshal(metaData, &deployedAt); err != nil {
					return err
				}
			}
			if !tr.contains(deployedAt) {
				return nil
			}
			var signed types.SignedContract
			if err := json.Unmarshal(v, &signed); err != nil {
				return err
			}
			all = append(all, signed)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Storagef(err, "list contracts")
	}
	return paginateContracts(all, page), nil
}

func (s *BoltStore) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	var value types.Value
	err := s.db.View(func(tx *bolt.Tx) error {
		stateBucket := tx.Bucket(bucketState).Bucket(contract[:])
		if stateBucket == nil {
			return nil
		}
		data := stateBucket.Get([]byte(keyString(key)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &value)
	})
	if err != nil {
		return nil, errs.Storagef(err, "query state %s", contract)
	}
	return value, nil
}

func (s *BoltStore) UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error) {
	var prev types.Value
	err := s.db.Update(func(tx *bolt.Tx) error {
		stateBucket, err := tx.Bucket(bucketState).CreateBucketIfNotExists(contract[:])
		if err != nil {
			return err
		}
		ks := []byte(keyString(key))
		if data := stateBucket.Get(ks); data != nil {
			if err := json.Unmarshal(data, &prev); err != nil {
				return err
			}
		}
		if value.Empty() {
			return stateBucket.Delete(ks)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return stateBucket.Put(ks, data)
	})
	if err != nil {
		return nil, errs.Storagef(err, "update state %s", contract)
	}
	return prev, nil
}

func (s *BoltStore) InsertSolutionsIntoPool(ctx context.Context, solutions []types.Solution) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPool)
		for _, sol := range solutions {
			addr := sol.Address()
			if pb.Get(addr[:]) != nil {
				continue
			}
			data, err := json.Marshal(sol)
			if err != nil {
				return err
			}
			if err := pb.Put(addr[:], data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errs.Storagef(err, "insert solutions into pool")
	}
	return nil
}

func (s *BoltStore) SolutionInPool(ctx context.Context, addr types.ContentAddress) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPool).Get(addr[:]) != nil
		return nil
	})
	if err != nil {
		return false, errs.Storagef(err, "check pool membership %s", addr)
	}
	return found, nil
}

func (s *BoltStore) RemoveSolutionsFromPool(ctx context.Context, addrs []types.ContentAddress) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return removeFromPoolTx(tx, addrs)
	})
	if err != nil {
		return errs.Storagef(err, "remove solutions from pool")
	}
	return nil
}

func removeFromPoolTx(tx *bolt.Tx, addrs []types.ContentAddress) error {
	pb := tx.Bucket(bucketPool)
	for _, addr := range addrs {
		if err := pb.Delete(addr[:]); err != nil {
			return err
		}
	}
	return nil
}

// ListSolutionsPool iterates the pool bucket in its natural key order,
// which is bytewise content-address order — the same order the builder
// must apply when it sequences candidates, so no separate sort is needed.
func (s *BoltStore) ListSolutionsPool(ctx context.Context, page Page) ([]types.Solution, error) {
	var all []types.Solution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPool).ForEach(func(k, v []byte) error {
			var sol types.Solution
			if err := json.Unmarshal(v, &sol); err != nil {
				return err
			}
			all = append(all, sol)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Storagef(err, "list pool")
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

func appendOutcomeTx(tx *bolt.Tx, addr types.ContentAddress, outcome types.SolutionOutcome) error {
	ob, err := tx.Bucket(bucketOutcomes).CreateBucketIfNotExists(addr[:])
	if err != nil {
		return err
	}
	seq, err := ob.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return ob.Put(blockNumberKey(seq), data)
}

func (s *BoltStore) MoveSolutionsToSolved(ctx context.Context, blockNumber uint64, addrs []types.ContentAddress) error {
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, addr := range addrs {
			if err := appendOutcomeTx(tx, addr, types.SucceededOutcome(blockNumber, now)); err != nil {
				return err
			}
		}
		return removeFromPoolTx(tx, addrs)
	})
	if err != nil {
		return errs.Storagef(err, "move solutions to solved")
	}
	return nil
}

func (s *BoltStore) MoveSolutionsToFailed(ctx context.Context, failures []FailedSolution) error {
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		addrs := make([]types.ContentAddress, 0, len(failures))
		for _, f := range failures {
			if err := appendOutcomeTx(tx, f.Address, types.FailedOutcome(f.Reason, now)); err != nil {
				return err
			}
			addrs = append(addrs, f.Address)
		}
		return removeFromPoolTx(tx, addrs)
	})
	if err != nil {
		return errs.Storagef(err, "move solutions to failed")
	}
	return nil
}

func (s *BoltStore) GetSolutionOutcomes(ctx context.Context, addr types.ContentAddress) ([]types.SolutionOutcome, error) {
	var out []types.SolutionOutcome
	err := s.db.View(func(tx *bolt.Tx) error {
		ob := tx.Bucket(bucketOutcomes).Bucket(addr[:])
		if ob == nil {
			return nil
		}
		return ob.ForEach(func(k, v []byte) error {
			var outcome types.SolutionOutcome
			if err := json.Unmarshal(v, &outcome); err != nil {
				return err
			}
			out = append(out, outcome)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Storagef(err, "get solution outcomes %s", addr)
	}
	return out, nil
}

func (s *BoltStore) ListBlocks(ctx context.Context, tr *TimeRange, page Page, sinceBlock *uint64) ([]types.Block, error) {
	var all []types.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		bb := tx.Bucket(bucketBlocks)
		mb := tx.Bucket(bucketBlockMeta)
		return bb.ForEach(func(k, v []byte) error {
			var block types.Block
			if err := json.Unmarshal(v, &block); err != nil {
				return err
			}
			if sinceBlock != nil && block.Number <= *sinceBlock {
				return nil
			}
			var committedAt time.Time
			if metaData := mb.Get(k); metaData != nil {
				if err := json.Unmarshal(metaData, &committedAt); err != nil {
					return err
				}
			}
			if !tr.contains(committedAt) {
				return nil
			}
			all = append(all, block)
			return nil
		})
	})
	if err != nil {
		return nil, errs.Storagef(err, "list blocks")
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

func (s *BoltStore) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var latest uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		latest = binary.BigEndian.Uint64(k)
		return nil
	})
	if err != nil {
		return 0, errs.Storagef(err, "latest block number")
	}
	return latest, nil
}

func (s *BoltStore) CommitBlock(ctx context.Context, proposal BlockProposal) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOperationDuration, "commit_block", "bolt")

	err := s.db.Update(func(tx *bolt.Tx) error {
		bb := tx.Bucket(bucketBlocks)
		c := bb.Cursor()
		latest := uint64(0)
		if k, _ := c.Last(); k != nil {
			latest = binary.BigEndian.Uint64(k)
		}
		if proposal.Block.Number != latest+1 {
			return errs.Consistencyf(nil, "commit block %d out of order, latest is %d", proposal.Block.Number, latest)
		}

		for _, mut := range proposal.Mutations {
			stateBucket, err := tx.Bucket(bucketState).CreateBucketIfNotExists(mut.Contract[:])
			if err != nil {
				return err
			}
			ks := []byte(keyString(mut.Key))
			if mut.Value.Empty() {
				if err := stateBucket.Delete(ks); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(mut.Value)
			if err != nil {
				return err
			}
			if err := stateBucket.Put(ks, data); err != nil {
				return err
			}
		}

		now := time.Now()
		for _, addr := range proposal.Solved {
			if err := appendOutcomeTx(tx, addr, types.SucceededOutcome(proposal.Block.Number, now)); err != nil {
				return err
			}
		}
		for _, f := range proposal.Failed {
			if err := appendOutcomeTx(tx, f.Address, types.FailedOutcome(f.Reason, now)); err != nil {
				return err
			}
		}
		removed := append([]types.ContentAddress{}, proposal.Solved...)
		for _, f := range proposal.Failed {
			removed = append(removed, f.Address)
		}
		if err := removeFromPoolTx(tx, removed); err != nil {
			return err
		}

		blockData, err := json.Marshal(proposal.Block)
		if err != nil {
			return err
		}
		key := blockNumberKey(proposal.Block.Number)
		if err := bb.Put(key, blockData); err != nil {
			return err
		}
		metaData, err := json.Marshal(now)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBlockMeta).Put(key, metaData)
	})
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("commit_block", "bolt").Inc()
		if _, ok := errs.KindOf(err); ok {
			return err
		}
		return errs.Storagef(err, "commit block %d", proposal.Block.Number)
	}
	return nil
}

// NewSnapshot opens a long-lived bbolt read transaction and returns a view
// bound to it, giving callers a consistent point-in-time read set even
// while writers keep committing. The read transaction stays open until
// the caller releases it through boltSnapshot.Close.
func (s *BoltStore) NewSnapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, errs.Storagef(err, "begin snapshot transaction")
	}
	return &boltSnapshot{tx: tx}, nil
}

type boltSnapshot struct {
	tx *bolt.Tx
}

// Close rolls back the underlying read transaction. Snapshot does not
// declare Close — callers that obtain a Snapshot from a BoltStore release
// it by type-asserting for io.Closer; nothing else ends the transaction.
func (b *boltSnapshot) Close() error {
	return b.tx.Rollback()
}

func (b *boltSnapshot) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	stateBucket := b.tx.Bucket(bucketState).Bucket(contract[:])
	if stateBucket == nil {
		return nil, nil
	}
	data := stateBucket.Get([]byte(keyString(key)))
	if data == nil {
		return nil, nil
	}
	var value types.Value
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errs.Storagef(err, "decode state cell")
	}
	return value, nil
}

func (b *boltSnapshot) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	data := b.tx.Bucket(bucketContracts).Get(addr[:])
	if data == nil {
		return nil, false, nil
	}
	var signed types.SignedContract
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, false, errs.Storagef(err, "decode contract")
	}
	return &signed, true, nil
}

func (b *boltSnapshot) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	predBucket := b.tx.Bucket(bucketPredicates).Bucket(contract[:])
	if predBucket == nil {
		return nil, false, nil
	}
	data := predBucket.Get(predicate[:])
	if data == nil {
		return nil, false, nil
	}
	var pred types.Predicate
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, false, errs.Storagef(err, "decode predicate")
	}
	return &pred, true, nil
}

var _ Store = (*BoltStore)(nil)
