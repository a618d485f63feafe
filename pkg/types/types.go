// Package types holds the wire-level data model shared by every component
// of the execution node: predicates and contracts, solutions, blocks, and
// the Key/Value address space solutions read and mutate.
package types

import "time"

// Word is one element of a Key or Value. Keys and Values are ordered
// sequences of 64-bit words rather than opaque byte strings, matching the
// state model predicates are written against.
type Word = uint64

// Key addresses a storage cell within a contract's state.
type Key []Word

// Value is the content of a storage cell. A zero-length Value is the
// "empty value": reads of an absent cell return it, and writing it deletes
// the cell. No empty-value cell is ever persisted.
type Value []Word

// Empty reports whether v is the empty value.
func (v Value) Empty() bool {
	return len(v) == 0
}

// Clone returns a copy of v, safe to mutate independently of the original.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}

// Clone returns a copy of k, safe to mutate independently of the original.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// Equal reports whether two keys address the same cell.
func (k Key) Equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

// Predicate pairs an ordered sequence of state-read programs with an
// ordered sequence of constraint programs. Both are opaque bytecode blobs;
// the VMs that execute them are treated as pure functions outside this
// package (see pkg/vm). A Predicate is immutable once deployed.
type Predicate struct {
	StateReadPrograms  [][]byte
	ConstraintPrograms [][]byte
}

// Bytes serializes the predicate deterministically for content-addressing.
// The encoding is length-prefixed so no byte sequence in one program can be
// mistaken for a boundary between programs.
func (p Predicate) Bytes() []byte {
	buf := make([]byte, 0, 64)
	buf = appendPrograms(buf, p.StateReadPrograms)
	buf = appendPrograms(buf, p.ConstraintPrograms)
	return buf
}

// Address returns the content address identifying this predicate.
func (p Predicate) Address() ContentAddress {
	return ComputeAddress(p.Bytes())
}

func appendPrograms(buf []byte, programs [][]byte) []byte {
	buf = appendUvarint(buf, uint64(len(programs)))
	for _, prog := range programs {
		buf = appendUvarint(buf, uint64(len(prog)))
		buf = append(buf, prog...)
	}
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return append(buf, tmp[:n]...)
}

// Contract is an ordered collection of predicates plus a salt, making the
// same predicate set deployable more than once under distinct addresses.
type Contract struct {
	Predicates []Predicate
	Salt       [32]byte
}

// Bytes serializes the contract for content-addressing: the ordered
// predicate addresses (not predicate bodies — those are stored separately)
// followed by the salt.
func (c Contract) Bytes() []byte {
	buf := make([]byte, 0, 32*len(c.Predicates)+32)
	for _, p := range c.Predicates {
		addr := p.Address()
		buf = append(buf, addr[:]...)
	}
	buf = append(buf, c.Salt[:]...)
	return buf
}

// Address returns the content address identifying this contract.
func (c Contract) Address() ContentAddress {
	return ComputeAddress(c.Bytes())
}

// SignedContract is a Contract together with a signature over its address.
// This package only carries the signature bytes; it does not verify them.
type SignedContract struct {
	Contract  Contract
	Signature []byte
}

// KV is a single (Key, Value) pair, used for transient data and proposed
// state mutations inside a SolutionPart.
type KV struct {
	Key   Key
	Value Value
}

// SolutionPart names one predicate a Solution proposes to satisfy, along
// with the candidate values and state mutations that go with it.
type SolutionPart struct {
	PredicateToSolve PredicateAddress
	DecisionVariables []Value
	TransientData     []KV
	StateMutations    []KV
}

// Solution is a client proposal: a sequence of SolutionParts, each
// resolved against its own predicate independently but sharing a single
// content address.
type Solution struct {
	Data []SolutionPart
}

// Bytes serializes the solution deterministically for content-addressing.
func (s Solution) Bytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUvarint(buf, uint64(len(s.Data)))
	for _, part := range s.Data {
		buf = append(buf, part.PredicateToSolve.Contract[:]...)
		buf = append(buf, part.PredicateToSolve.Predicate[:]...)
		buf = appendUvarint(buf, uint64(len(part.DecisionVariables)))
		for _, dv := range part.DecisionVariables {
			buf = appendValue(buf, dv)
		}
		buf = appendUvarint(buf, uint64(len(part.TransientData)))
		for _, kv := range part.TransientData {
			buf = appendKey(buf, kv.Key)
			buf = appendValue(buf, kv.Value)
		}
		buf = appendUvarint(buf, uint64(len(part.StateMutations)))
		for _, kv := range part.StateMutations {
			buf = appendKey(buf, kv.Key)
			buf = appendValue(buf, kv.Value)
		}
	}
	return buf
}

func appendKey(buf []byte, k Key) []byte {
	buf = appendUvarint(buf, uint64(len(k)))
	for _, w := range k {
		buf = appendUvarint(buf, w)
	}
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	buf = appendUvarint(buf, uint64(len(v)))
	for _, w := range v {
		buf = appendUvarint(buf, w)
	}
	return buf
}

// Address returns the content address identifying this solution.
func (s Solution) Address() ContentAddress {
	return ComputeAddress(s.Bytes())
}

// BlockTime is a (seconds, nanos) timestamp, kept as two integers rather
// than time.Time so it round-trips exactly through the block-state
// contract's word-based storage cells.
type BlockTime struct {
	Seconds int64
	Nanos   int32
}

// FromTime converts a time.Time to the wire BlockTime representation.
func FromTime(t time.Time) BlockTime {
	return BlockTime{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts back to a time.Time in UTC.
func (b BlockTime) Time() time.Time {
	return time.Unix(b.Seconds, int64(b.Nanos)).UTC()
}

// Block is a numbered, timestamped, ordered list of solutions committed by
// one builder tick. Solutions appear in the order the builder folded them
// into the parent overlay, i.e. bytewise content-address order filtered to
// the ones that validated successfully.
type Block struct {
	Number    uint64
	Timestamp BlockTime
	Solutions []Solution
}

// SolutionOutcome records the result of one validation attempt against a
// specific solution content address. A solution may accumulate many
// outcomes over its lifetime (resubmission is permitted).
type SolutionOutcome struct {
	// Exactly one of Block/Reason is meaningful, selected by Success.
	Success bool
	Block   uint64
	Reason  string
	At      time.Time
}

// SucceededOutcome builds a Success outcome for the given block number.
func SucceededOutcome(block uint64, at time.Time) SolutionOutcome {
	return SolutionOutcome{Success: true, Block: block, At: at}
}

// FailedOutcome builds a Fail outcome carrying reason.
func FailedOutcome(reason string, at time.Time) SolutionOutcome {
	return SolutionOutcome{Success: false, Reason: reason, At: at}
}
