package vm

import (
	"context"
	"math"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// WasmVM runs predicate programs compiled to WebAssembly through wasmer,
// for predicates that need more than the native StackVM's instruction
// set offers. Programs export a `_start` entrypoint and a `memory`, and
// call back into the host through the functions registerHostImports
// binds under the "env" namespace.
type WasmVM struct {
	engine *wasmer.Engine
}

// NewWasmVM constructs a WasmVM sharing one wasmer engine across calls;
// wasmer engines are safe for concurrent use and expensive enough to
// create that the validator should build one and reuse it.
func NewWasmVM() *WasmVM {
	return &WasmVM{engine: wasmer.NewEngine()}
}

type wasmHostCtx struct {
	ctx          context.Context
	mem          *wasmer.Memory
	gas          *GasMeter
	reader       StateReader
	contract     types.ContentAddress
	decisionVars []types.Value
	transient    []types.KV
	readSlots    []types.KV
	mutations    []types.KV
	produced     []types.KV
	satisfied    bool
	utility      float64
	failed       error
}

func (h *wasmHostCtx) read(ptr, ln int32) []byte {
	data := h.mem.Data()
	out := make([]byte, ln)
	copy(out, data[ptr:ptr+ln])
	return out
}

func (h *wasmHostCtx) write(ptr int32, data []byte) {
	copy(h.mem.Data()[ptr:], data)
}

func wordsFromBytes(b []byte) []uint64 {
	words := make([]uint64, len(b)/8)
	for i := range words {
		for j := 0; j < 8; j++ {
			words[i] = words[i]<<8 | uint64(b[i*8+j])
		}
	}
	return words
}

func bytesFromWords(words []uint64) []byte {
	out := make([]byte, len(words)*8)
	for i, w := range words {
		for j := 0; j < 8; j++ {
			out[i*8+j] = byte(w >> (56 - 8*j))
		}
	}
	return out
}

// registerHostImports binds the host functions a compiled predicate
// program calls: gas accounting, state reads, and access to the
// solution-part inputs and outputs a program reasons about.
func registerHostImports(store *wasmer.Store, h *wasmHostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()
	i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))

	hostConsumeGas := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			cost := uint64(args[0].I32())
			if err := h.gas.Consume(cost); err != nil {
				h.failed = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	hostReadState := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(
			wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
			key := types.Key(wordsFromBytes(h.read(keyPtr, keyLen)))
			value, err := h.reader.QueryState(h.ctx, h.contract, key)
			if err != nil {
				h.failed = errs.Validationf("vm: state read failed: %v", err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data := bytesFromWords(value)
			h.write(dstPtr, data)
			h.produced = append(h.produced, types.KV{Key: key.Clone(), Value: value.Clone()})
			return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
		})

	hostDecisionVar := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			idx, dstPtr := int(args[0].I32()), args[1].I32()
			if idx < 0 || idx >= len(h.decisionVars) {
				h.failed = errs.Validationf("vm: decision variable index %d out of range", idx)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data := bytesFromWords(h.decisionVars[idx])
			h.write(dstPtr, data)
			return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
		})

	hostTransient := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			idx, dstPtr := int(args[0].I32()), args[1].I32()
			if idx < 0 || idx >= len(h.transient) {
				h.failed = errs.Validationf("vm: transient data index %d out of range", idx)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data := bytesFromWords(h.transient[idx].Value)
			h.write(dstPtr, data)
			return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
		})

	hostReadSlot := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			idx, dstPtr := int(args[0].I32()), args[1].I32()
			if idx < 0 || idx >= len(h.readSlots) {
				h.failed = errs.Validationf("vm: read slot index %d out of range", idx)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			data := bytesFromWords(h.readSlots[idx].Value)
			h.write(dstPtr, data)
			return []wasmer.Value{wasmer.NewI32(int32(len(data)))}, nil
		})

	hostEmitMutation := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(
			wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
			wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, valPtr, valLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			key := types.Key(wordsFromBytes(h.read(keyPtr, keyLen)))
			value := types.Value(wordsFromBytes(h.read(valPtr, valLen)))
			h.mutations = append(h.mutations, types.KV{Key: key, Value: value})
			return []wasmer.Value{}, nil
		})

	hostReturn := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I64)), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			h.satisfied = args[0].I32() != 0
			h.utility += math.Float64frombits(uint64(args[1].I64()))
			return []wasmer.Value{}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas":   hostConsumeGas,
		"host_read_state":    hostReadState,
		"host_decision_var":  hostDecisionVar,
		"host_transient":     hostTransient,
		"host_read_slot":     hostReadSlot,
		"host_emit_mutation": hostEmitMutation,
		"host_return":        hostReturn,
	})
	return imports
}

func (vm *WasmVM) run(ctx context.Context, code []byte, h *wasmHostCtx) error {
	store := wasmer.NewStore(vm.engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return errs.Validationf("vm: compile wasm module: %v", err)
	}

	imports := registerHostImports(store, h)
	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return errs.Validationf("vm: instantiate wasm module: %v", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return errs.Validationf("vm: wasm module does not export memory")
	}
	h.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return errs.Validationf("vm: wasm module does not export _start")
	}
	if _, err := start(); err != nil {
		return errs.Validationf("vm: wasm execution trapped: %v", err)
	}
	if h.failed != nil {
		return h.failed
	}
	return nil
}

// ReadState implements StateReadVM for wasm-compiled predicate programs.
func (vm *WasmVM) ReadState(ctx context.Context, programs [][]byte, reader StateReader, contract types.ContentAddress, decisionVars []types.Value, gas *GasMeter) ([]types.KV, error) {
	var slots []types.KV
	for _, program := range programs {
		h := &wasmHostCtx{ctx: ctx, gas: gas, reader: reader, contract: contract, decisionVars: decisionVars}
		if err := vm.run(ctx, program, h); err != nil {
			return nil, err
		}
		slots = append(slots, h.produced...)
	}
	return slots, nil
}

// CheckConstraints implements ConstraintVM for wasm-compiled predicate
// programs.
func (vm *WasmVM) CheckConstraints(ctx context.Context, programs [][]byte, input ConstraintInput, gas *GasMeter) (bool, float64, error) {
	satisfied := true
	totalUtility := 0.0

	for _, program := range programs {
		h := &wasmHostCtx{
			ctx:          ctx,
			gas:          gas,
			decisionVars: input.DecisionVariables,
			transient:    input.TransientData,
			readSlots:    input.ReadSlots,
		}
		if err := vm.run(ctx, program, h); err != nil {
			return false, 0, err
		}
		if !h.satisfied {
			satisfied = false
		}
		totalUtility += h.utility
		input.ProposedMutations = append(input.ProposedMutations, h.mutations...)
	}
	return satisfied, totalUtility, nil
}

var (
	_ StateReadVM  = (*WasmVM)(nil)
	_ ConstraintVM = (*WasmVM)(nil)
)
