package vm

import (
	"context"
	"math"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// StackVM is the default, native interpreter for predicate bytecode: a
// small stack machine operating on length-prefixed word sequences, the
// same interpreter loop shape for both state-read and constraint
// programs since the two only differ in which opcodes are legal and what
// verdict they produce.
type StackVM struct{}

// NewStackVM constructs the default interpreter. It carries no state of
// its own — every invocation is independent, which is what lets the
// validator share one StackVM across concurrent SolutionPart evaluations.
func NewStackVM() *StackVM {
	return &StackVM{}
}

type frame struct {
	words []uint64
}

type interpreter struct {
	code  []byte
	pc    int
	stack []uint64
	gas   *GasMeter
}

func (in *interpreter) push(w uint64) {
	in.stack = append(in.stack, w)
}

func (in *interpreter) pop() (uint64, error) {
	if len(in.stack) == 0 {
		return 0, errs.Validationf("vm: stack underflow")
	}
	w := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return w, nil
}

func (in *interpreter) pushFrame(words []uint64) {
	for _, w := range words {
		in.push(w)
	}
	in.push(uint64(len(words)))
}

func (in *interpreter) popFrame() (frame, error) {
	n, err := in.pop()
	if err != nil {
		return frame{}, err
	}
	words := make([]uint64, n)
	for i := int(n) - 1; i >= 0; i-- {
		w, err := in.pop()
		if err != nil {
			return frame{}, err
		}
		words[i] = w
	}
	return frame{words: words}, nil
}

func (in *interpreter) readWord() (uint64, error) {
	if in.pc+8 > len(in.code) {
		return 0, errs.Validationf("vm: truncated push operand at pc=%d", in.pc)
	}
	var w uint64
	for i := 0; i < 8; i++ {
		w = w<<8 | uint64(in.code[in.pc+i])
	}
	in.pc += 8
	return w, nil
}

func (in *interpreter) readByte() (byte, error) {
	if in.pc >= len(in.code) {
		return 0, errs.Validationf("vm: truncated operand at pc=%d", in.pc)
	}
	b := in.code[in.pc]
	in.pc++
	return b, nil
}

// ReadState implements StateReadVM by running each program in order
// against reader, accumulating the read slots every OpReadState produces
// across all programs in the predicate.
func (vm *StackVM) ReadState(ctx context.Context, programs [][]byte, reader StateReader, contract types.ContentAddress, decisionVars []types.Value, gas *GasMeter) ([]types.KV, error) {
	var slots []types.KV
	for _, program := range programs {
		produced, err := vm.runStateRead(ctx, program, reader, contract, decisionVars, gas)
		if err != nil {
			return nil, err
		}
		slots = append(slots, produced...)
	}
	return slots, nil
}

func (vm *StackVM) runStateRead(ctx context.Context, code []byte, reader StateReader, contract types.ContentAddress, decisionVars []types.Value, gas *GasMeter) ([]types.KV, error) {
	in := &interpreter{code: code, gas: gas}
	var slots []types.KV

	for in.pc < len(in.code) {
		opByte := in.code[in.pc]
		in.pc++
		op := Opcode(opByte)
		if err := gas.Consume(GasCost(op)); err != nil {
			return nil, err
		}

		switch op {
		case OpHalt:
			return slots, nil
		case OpPushWord:
			w, err := in.readWord()
			if err != nil {
				return nil, err
			}
			in.push(w)
		case OpDup:
			top, err := in.pop()
			if err != nil {
				return nil, err
			}
			in.push(top)
			in.push(top)
		case OpPop:
			if _, err := in.pop(); err != nil {
				return nil, err
			}
		case OpDecisionVar:
			idx, err := in.readByte()
			if err != nil {
				return nil, err
			}
			if int(idx) >= len(decisionVars) {
				return nil, errs.Validationf("vm: decision variable index %d out of range", idx)
			}
			in.pushFrame(decisionVars[idx])
		case OpReadState:
			keyFrame, err := in.popFrame()
			if err != nil {
				return nil, err
			}
			key := types.Key(keyFrame.words)
			value, err := reader.QueryState(ctx, contract, key)
			if err != nil {
				return nil, errs.Validationf("vm: state read failed: %v", err)
			}
			in.pushFrame(value)
			slots = append(slots, types.KV{Key: key.Clone(), Value: value.Clone()})
		default:
			return nil, errs.Validationf("vm: opcode 0x%02x not valid in a state-read program", opByte)
		}
	}
	return slots, nil
}

// CheckConstraints implements ConstraintVM by running each program in
// order; every program must report satisfied for the predicate to be
// satisfied, and utilities sum across programs.
func (vm *StackVM) CheckConstraints(ctx context.Context, programs [][]byte, input ConstraintInput, gas *GasMeter) (bool, float64, error) {
	satisfied := true
	totalUtility := 0.0

	for _, program := range programs {
		ok, utility, err := vm.runConstraint(ctx, program, input, gas)
		if err != nil {
			return false, 0, err
		}
		if !ok {
			satisfied = false
		}
		totalUtility += utility
	}
	return satisfied, totalUtility, nil
}

func (vm *StackVM) runConstraint(ctx context.Context, code []byte, input ConstraintInput, gas *GasMeter) (bool, float64, error) {
	in := &interpreter{code: code, gas: gas}
	satisfied := false
	utility := 0.0

	frameAt := func(kvs []types.KV, idx byte) ([]uint64, error) {
		if int(idx) >= len(kvs) {
			return nil, errs.Validationf("vm: index %d out of range", idx)
		}
		return kvs[idx].Value, nil
	}

	for in.pc < len(in.code) {
		opByte := in.code[in.pc]
		in.pc++
		op := Opcode(opByte)
		if err := gas.Consume(GasCost(op)); err != nil {
			return false, 0, err
		}

		switch op {
		case OpHalt:
			return satisfied, utility, nil
		case OpPushWord:
			w, err := in.readWord()
			if err != nil {
				return false, 0, err
			}
			in.push(w)
		case OpDup:
			top, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			in.push(top)
			in.push(top)
		case OpPop:
			if _, err := in.pop(); err != nil {
				return false, 0, err
			}
		case OpAdd, OpSub, OpMul, OpLt, OpEq, OpAnd, OpOr:
			b, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			a, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			in.push(applyBinaryOp(op, a, b))
		case OpNot:
			a, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			if a == 0 {
				in.push(1)
			} else {
				in.push(0)
			}
		case OpDecisionVar:
			idx, err := in.readByte()
			if err != nil {
				return false, 0, err
			}
			if int(idx) >= len(input.DecisionVariables) {
				return false, 0, errs.Validationf("vm: decision variable index %d out of range", idx)
			}
			in.pushFrame(input.DecisionVariables[idx])
		case OpTransientValue:
			idx, err := in.readByte()
			if err != nil {
				return false, 0, err
			}
			words, err := frameAt(input.TransientData, idx)
			if err != nil {
				return false, 0, err
			}
			in.pushFrame(words)
		case OpReadSlotValue:
			idx, err := in.readByte()
			if err != nil {
				return false, 0, err
			}
			words, err := frameAt(input.ReadSlots, idx)
			if err != nil {
				return false, 0, err
			}
			in.pushFrame(words)
		case OpMutation:
			valueFrame, err := in.popFrame()
			if err != nil {
				return false, 0, err
			}
			keyFrame, err := in.popFrame()
			if err != nil {
				return false, 0, err
			}
			input.ProposedMutations = append(input.ProposedMutations, types.KV{
				Key:   types.Key(keyFrame.words),
				Value: types.Value(valueFrame.words),
			})
		case OpReturnBool:
			w, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			satisfied = w != 0
		case OpReturnUtility:
			w, err := in.pop()
			if err != nil {
				return false, 0, err
			}
			utility += math.Float64frombits(w)
		default:
			return false, 0, errs.Validationf("vm: opcode 0x%02x not valid in a constraint program", opByte)
		}
	}
	return satisfied, utility, nil
}

func applyBinaryOp(op Opcode, a, b uint64) uint64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpLt:
		if a < b {
			return 1
		}
		return 0
	case OpEq:
		if a == b {
			return 1
		}
		return 0
	case OpAnd:
		if a != 0 && b != 0 {
			return 1
		}
		return 0
	case OpOr:
		if a != 0 || b != 0 {
			return 1
		}
		return 0
	default:
		return 0
	}
}

var (
	_ StateReadVM  = (*StackVM)(nil)
	_ ConstraintVM = (*StackVM)(nil)
)
