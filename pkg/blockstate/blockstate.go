// Package blockstate defines the reserved block-state contract (C6): a
// well-known ContentAddress that behaves like any other contract for read
// purposes, exposing "number" and "time" keys that project the current
// head block. It is updated exclusively by the block builder, as part of
// the same commit that creates each new block.
package blockstate

import (
	"context"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/storage"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// reserved is the registry of well-known contract addresses. It is kept
// as a table, not a single constant, so a future reserved contract can be
// added without touching the builder's commit path.
var reserved = map[string]types.ContentAddress{
	"block-state": types.ComputeAddress([]byte("ledgerd/reserved/block-state")),
}

// Address is the reserved ContentAddress of the block-state contract.
func Address() types.ContentAddress {
	return reserved["block-state"]
}

var (
	numberKey = types.Key{types.Word(stringHash("number"))}
	timeKey   = types.Key{types.Word(stringHash("time"))}
)

// stringHash folds a short identifier into a single Word, used only to
// name the fixed keys of the block-state contract's two fields.
func stringHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Mutations returns the two state mutations the builder must stage into
// its top-level overlay every tick, pre-committing the candidate block
// number and timestamp before any solution is validated against it. The
// block-state contract holds exactly two keys: "number" and "time", the
// latter a single two-word value of (seconds, nanos).
func Mutations(number uint64, ts types.BlockTime) []storage.StateMutation {
	addr := Address()
	return []storage.StateMutation{
		{Contract: addr, Key: numberKey, Value: wordValue(number)},
		{Contract: addr, Key: timeKey, Value: timeValue(ts)},
	}
}

func wordValue(w uint64) types.Value {
	return types.Value{types.Word(w)}
}

func timeValue(ts types.BlockTime) types.Value {
	return types.Value{types.Word(uint64(ts.Seconds)), types.Word(uint64(ts.Nanos))}
}

// Head reads the current head block number and time from snap. It
// returns ok=false if the block-state contract has not been initialized
// yet, which the supervisor treats as a first-run condition.
func Head(ctx context.Context, snap storage.Snapshot) (number uint64, ts types.BlockTime, ok bool, err error) {
	addr := Address()

	numberVal, err := snap.QueryState(ctx, addr, numberKey)
	if err != nil {
		return 0, types.BlockTime{}, false, errs.Storagef(err, "read block-state number")
	}
	if numberVal.Empty() {
		return 0, types.BlockTime{}, false, nil
	}

	timeVal, err := snap.QueryState(ctx, addr, timeKey)
	if err != nil {
		return 0, types.BlockTime{}, false, errs.Storagef(err, "read block-state time")
	}

	number = uint64(numberVal[0])
	if len(timeVal) > 0 {
		ts.Seconds = int64(timeVal[0])
	}
	if len(timeVal) > 1 {
		ts.Nanos = int32(timeVal[1])
	}
	return number, ts, true, nil
}

// Initialize writes number=0 at the given time if the block-state
// contract is absent, and is a no-op otherwise. The supervisor calls this
// once at startup (§4.8).
func Initialize(ctx context.Context, store storage.Store, now types.BlockTime) error {
	snap, err := store.NewSnapshot(ctx)
	if err != nil {
		return errs.Storagef(err, "snapshot for block-state initialization")
	}
	if closer, ok := snap.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	_, _, ok, err := Head(ctx, snap)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	for _, m := range Mutations(0, now) {
		if _, err := store.UpdateState(ctx, m.Contract, m.Key, m.Value); err != nil {
			return errs.Storagef(err, "initialize block-state contract")
		}
	}
	return nil
}
