package vm

// Opcode is one instruction in the stack-machine bytecode StackVM
// interprets. Values and keys on the stack are represented as a
// length-word followed by that many 64-bit words, the same convention
// types.Key and types.Value use on the wire.
type Opcode byte

const (
	// OpHalt stops execution immediately. A program that never reaches a
	// Return* opcode before halting leaves the verdict at its default
	// (unsatisfied, zero utility) — silence is failure.
	OpHalt Opcode = iota
	// OpPushWord pushes the 8-byte big-endian word that follows it in the
	// bytecode stream.
	OpPushWord
	OpDup
	OpPop
	OpAdd
	OpSub
	OpMul
	OpLt
	OpEq
	OpAnd
	OpOr
	OpNot
	// OpDecisionVar takes a 1-byte index and pushes DecisionVariables[index]
	// as a length-prefixed word sequence.
	OpDecisionVar
	// OpTransientValue takes a 1-byte index and pushes TransientData[index].Value.
	OpTransientValue
	// OpReadSlotValue takes a 1-byte index and pushes ReadSlots[index].Value.
	// Valid only in constraint programs.
	OpReadSlotValue
	// OpReadState pops a length-prefixed key, queries it against the
	// program's StateReader, pushes the length-prefixed result, and
	// appends (key, result) to the program's read slots. Valid only in
	// state-read programs.
	OpReadState
	// OpMutation pops a length-prefixed value then a length-prefixed key
	// and records them as a proposed mutation. Valid only in constraint
	// programs.
	OpMutation
	// OpReturnBool pops one word; nonzero means satisfied.
	OpReturnBool
	// OpReturnUtility pops one word, reinterpreted as the IEEE-754 bits of
	// a float64 utility contribution, and adds it to the running total.
	OpReturnUtility
)

// GasCost returns the gas charged for executing op, independent of its
// operands. State access and mutation cost more than pure stack
// arithmetic, reflecting the cost the validator actually incurs.
func GasCost(op Opcode) uint64 {
	switch op {
	case OpReadState:
		return 50
	case OpMutation:
		return 20
	case OpDecisionVar, OpTransientValue, OpReadSlotValue:
		return 5
	case OpHalt:
		return 0
	default:
		return 1
	}
}
