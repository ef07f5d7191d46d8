// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"errors"
	"fmt"
)

// ---- Error sentinels -------------------------------------------------------

// ErrOutOfGas is returned when an execution exhausts its gas limit.
var ErrOutOfGas = errors.New("vm: out of gas")

// ErrHalted is returned when Step is called on a halted VM.
var ErrHalted = errors.New("vm: already halted")

// ErrInvalidOpcode is returned when the fetched byte does not correspond to a
// known opcode.
var ErrInvalidOpcode = errors.New("vm: invalid opcode")

// ErrInvalidOperand is returned for a register, constant or function index
// outside its table.
var ErrInvalidOperand = errors.New("vm: operand out of range")

// ErrCallDepth is returned when nested calls exceed the configured depth.
var ErrCallDepth = errors.New("vm: maximum call depth exceeded")

// ErrUnboundFunction is returned when calling a slot with neither a body
// nor a native.
var ErrUnboundFunction = errors.New("vm: call to undefined function")

// ErrArityMismatch is returned when the number of pushed arguments differs
// from the callee's arity.
var ErrArityMismatch = errors.New("vm: argument count mismatch")

// ---- Gas costs -------------------------------------------------------------

const (
	gasTrivial    uint64 = 1  // loads, moves, pushes, returns
	gasArithmetic uint64 = 3  // add, sub, compare
	gasMul        uint64 = 5  // multiply
	gasCall       uint64 = 20 // function call overhead
	gasNative     uint64 = 10 // host function invocation
)

// DefaultMaxCallDepth bounds recursion when no other limit is configured.
const DefaultMaxCallDepth = 1024

// ---- Frame -----------------------------------------------------------------

// frame captures one active call.
type frame struct {
	fn        int    // function slot
	returnPC  uint32 // PC to restore in the caller
	returnReg uint8  // caller register receiving the result
	base      int    // first register of this call's window
	stackBase int    // value stack height when the call began
}

// ---- VM --------------------------------------------------------------------

// VM executes functions of a Program. Registers are windowed: each call sees
// its own R0..R(Locals-1). A VM is not safe for concurrent use but can run
// any number of calls in sequence.
type VM struct {
	prog      *Program
	regs      []float64 // register file shared by all windows
	stack     []float64 // pending call arguments
	callStack []frame
	pc        uint32
	halted    bool
	result    float64
	gasUsed   uint64
	gasLimit  uint64
	maxDepth  int
}

// New creates a VM over prog. Each call may consume at most gasLimit gas.
func New(prog *Program, gasLimit uint64) *VM {
	return &VM{
		prog:      prog,
		gasLimit:  gasLimit,
		maxDepth:  DefaultMaxCallDepth,
		halted:    true,
		regs:      make([]float64, 0, MaxRegisters),
		stack:     make([]float64, 0, 32),
		callStack: make([]frame, 0, 16),
	}
}

// SetMaxCallDepth limits the number of nested calls.
func (vm *VM) SetMaxCallDepth(n int) { vm.maxDepth = n }

// GasUsed returns the gas consumed by the current or last call.
func (vm *VM) GasUsed() uint64 { return vm.gasUsed }

// PC returns the current program counter.
func (vm *VM) PC() uint32 { return vm.pc }

// Halted reports whether the VM has halted.
func (vm *VM) Halted() bool { return vm.halted }

// Depth returns the number of active frames.
func (vm *VM) Depth() int { return len(vm.callStack) }

// Call runs the function registered under name with args and returns its
// result.
func (vm *VM) Call(name string, args ...float64) (float64, error) {
	idx, ok := vm.prog.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnboundFunction, name)
	}
	return vm.CallIndex(idx, args...)
}

// CallIndex runs the function in slot idx with args.
func (vm *VM) CallIndex(idx int, args ...float64) (float64, error) {
	vm.regs = vm.regs[:0]
	vm.stack = append(vm.stack[:0], args...)
	vm.callStack = vm.callStack[:0]
	vm.pc, vm.result, vm.gasUsed = 0, 0, 0
	vm.halted = false

	if err := vm.invoke(idx, 0); err != nil {
		vm.halted = true
		return 0, err
	}
	return vm.Run()
}

// Run executes until the outermost call returns, an error occurs or gas
// runs out.
func (vm *VM) Run() (float64, error) {
	for !vm.halted {
		if err := vm.Step(); err != nil {
			vm.halted = true
			return 0, err
		}
	}
	return vm.result, nil
}

// Step fetches, decodes, and executes exactly one instruction.
// It returns ErrHalted if the VM has already halted.
func (vm *VM) Step() error {
	if vm.halted {
		return ErrHalted
	}

	// ---- Fetch ----
	if int(vm.pc)+InstrSize > len(vm.prog.Code) {
		return fmt.Errorf("vm: PC %d is past end of code (%d bytes)", vm.pc, len(vm.prog.Code))
	}
	in := Decode(vm.prog.Code, int(vm.pc))
	vm.pc += InstrSize

	// ---- Decode ----
	if !in.Op.Valid() {
		return fmt.Errorf("%w 0x%02x at %d", ErrInvalidOpcode, uint8(in.Op), vm.pc-InstrSize)
	}
	if err := vm.checkRegisters(in); err != nil {
		return err
	}

	// ---- Execute ----
	return vm.execute(in)
}

// checkRegisters bounds every register operand of in by the current
// window.
func (vm *VM) checkRegisters(in Instr) error {
	locals := len(vm.regs) - vm.top().base
	n := in.Op.Operands()
	if in.Op.IsWideImmediate() {
		n = 1
	}
	ops := [3]uint8{in.A, in.B, in.C}
	for _, r := range ops[:n] {
		if int(r) >= locals {
			return fmt.Errorf("%w: %s uses R%d of %d", ErrInvalidOperand, in.Op, r, locals)
		}
	}
	return nil
}

func (vm *VM) top() *frame { return &vm.callStack[len(vm.callStack)-1] }

// setReg writes v to register idx of the current window.
func (vm *VM) setReg(idx uint8, v float64) {
	vm.regs[vm.top().base+int(idx)] = v
}

// getReg reads register idx of the current window.
func (vm *VM) getReg(idx uint8) float64 {
	return vm.regs[vm.top().base+int(idx)]
}

// useGas deducts cost from the gas budget.
func (vm *VM) useGas(cost uint64) error {
	vm.gasUsed += cost
	if vm.gasUsed > vm.gasLimit {
		vm.halted = true
		return ErrOutOfGas
	}
	return nil
}

// execute dispatches the decoded instruction to its handler.
func (vm *VM) execute(in Instr) error {
	switch in.Op {

	// ---- Arithmetic --------------------------------------------------------

	case OpAdd:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setReg(in.A, vm.getReg(in.B)+vm.getReg(in.C))

	case OpSub:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		vm.setReg(in.A, vm.getReg(in.B)-vm.getReg(in.C))

	case OpMul:
		if err := vm.useGas(gasMul); err != nil {
			return err
		}
		vm.setReg(in.A, vm.getReg(in.B)*vm.getReg(in.C))

	case OpLt:
		if err := vm.useGas(gasArithmetic); err != nil {
			return err
		}
		var v float64
		if !(vm.getReg(in.B) >= vm.getReg(in.C)) {
			v = 1
		}
		vm.setReg(in.A, v)

	// ---- Load/Move ---------------------------------------------------------

	case OpLoadConst:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		idx := int(in.Imm())
		if idx >= len(vm.prog.Constants) {
			return fmt.Errorf("%w: constant %d of %d", ErrInvalidOperand, idx, len(vm.prog.Constants))
		}
		vm.setReg(in.A, vm.prog.Constants[idx])

	case OpMove:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.setReg(in.A, vm.getReg(in.B))

	// ---- Calls -------------------------------------------------------------

	case OpPush:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.stack = append(vm.stack, vm.getReg(in.A))

	case OpCall:
		if err := vm.useGas(gasCall); err != nil {
			return err
		}
		return vm.invoke(int(in.Imm()), in.A)

	case OpReturn:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		retVal := vm.getReg(in.A)
		f := vm.callStack[len(vm.callStack)-1]
		vm.callStack = vm.callStack[:len(vm.callStack)-1]
		vm.regs = vm.regs[:f.base]
		vm.stack = vm.stack[:f.stackBase]
		vm.pc = f.returnPC
		vm.deliver(f.returnReg, retVal)

	case OpHalt:
		if err := vm.useGas(gasTrivial); err != nil {
			return err
		}
		vm.result = vm.getReg(in.A)
		vm.halted = true
	}
	return nil
}

// invoke calls slot idx with the arguments pushed since the current frame
// began, delivering the result to register dst of the caller.
func (vm *VM) invoke(idx int, dst uint8) error {
	if idx >= len(vm.prog.Functions) {
		return fmt.Errorf("%w: function %d of %d", ErrInvalidOperand, idx, len(vm.prog.Functions))
	}
	fn := &vm.prog.Functions[idx]
	if !fn.Bound {
		return fmt.Errorf("%w: %s", ErrUnboundFunction, fn.Name)
	}

	stackBase := 0
	if len(vm.callStack) > 0 {
		stackBase = vm.top().stackBase
	}
	if argc := len(vm.stack) - stackBase; argc != fn.Arity {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrArityMismatch, fn.Name, fn.Arity, argc)
	}
	args := vm.stack[stackBase:]

	if fn.Native != nil {
		if err := vm.useGas(gasNative); err != nil {
			return err
		}
		v, err := fn.Native(args)
		if err != nil {
			return fmt.Errorf("vm: native %s: %w", fn.Name, err)
		}
		vm.stack = vm.stack[:stackBase]
		vm.deliver(dst, v)
		return nil
	}

	if len(vm.callStack) >= vm.maxDepth {
		return fmt.Errorf("%w (%d) calling %s", ErrCallDepth, vm.maxDepth, fn.Name)
	}
	base := len(vm.regs)
	for i := 0; i < fn.Locals; i++ {
		vm.regs = append(vm.regs, 0)
	}
	copy(vm.regs[base:], args)
	vm.stack = vm.stack[:stackBase]
	vm.callStack = append(vm.callStack, frame{
		fn:        idx,
		returnPC:  vm.pc,
		returnReg: dst,
		base:      base,
		stackBase: stackBase,
	})
	vm.pc = fn.Offset
	return nil
}

// deliver hands a call result to the caller, or finishes the run when the
// outermost call returns.
func (vm *VM) deliver(dst uint8, v float64) {
	if len(vm.callStack) == 0 {
		vm.result = v
		vm.halted = true
		return
	}
	vm.setReg(dst, v)
}
