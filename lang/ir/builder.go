// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "math"

// Builder constructs SSA IR one function at a time.
type Builder struct {
	program  *Program
	function *Function
	block    *BasicBlock
	consts   map[uint64]int // bit pattern -> pool index
}

// NewBuilder creates a new IR builder.
func NewBuilder() *Builder {
	return &Builder{
		program: &Program{},
		consts:  make(map[uint64]int),
	}
}

// Program returns the built program.
func (b *Builder) Program() *Program {
	return b.program
}

// AddConstant interns c in the constant pool and returns its index.
// Constants are compared by bit pattern, so 0 and -0 stay distinct.
func (b *Builder) AddConstant(c float64) int {
	bits := math.Float64bits(c)
	if idx, ok := b.consts[bits]; ok {
		return idx
	}
	idx := len(b.program.Constants)
	b.program.Constants = append(b.program.Constants, c)
	b.consts[bits] = idx
	return idx
}

// StartFunction begins building a new function. One value is allocated per
// parameter name.
func (b *Builder) StartFunction(name string, params []string) *Function {
	f := &Function{Name: name}
	b.function = f
	b.program.Functions = append(b.program.Functions, f)
	for _, p := range params {
		f.Params = append(f.Params, b.NewValue(p))
	}
	return f
}

// NewBlock creates a new basic block in the current function.
func (b *Builder) NewBlock(label string) *BasicBlock {
	bb := &BasicBlock{Label: label}
	b.function.Blocks = append(b.function.Blocks, bb)
	return bb
}

// SetBlock sets the current insertion point.
func (b *Builder) SetBlock(bb *BasicBlock) {
	b.block = bb
}

// NewValue allocates a fresh SSA value in the current function.
func (b *Builder) NewValue(name string) Value {
	v := Value{ID: b.function.Locals, Name: name}
	b.function.Locals++
	return v
}

// Emit appends an instruction to the current block and returns its result.
func (b *Builder) Emit(op Op, result Value, operands ...Value) Value {
	b.block.Instructions = append(b.block.Instructions, &Instruction{
		Op:       op,
		Result:   result,
		Operands: operands,
	})
	return result
}

// EmitConst loads a constant into a value.
func (b *Builder) EmitConst(result Value, constIdx int) Value {
	b.block.Instructions = append(b.block.Instructions, &Instruction{
		Op:       OpConst,
		Result:   result,
		ConstIdx: constIdx,
	})
	return result
}

// EmitCall emits a function call.
func (b *Builder) EmitCall(result Value, funcName string, args ...Value) Value {
	b.block.Instructions = append(b.block.Instructions, &Instruction{
		Op:       OpCall,
		Result:   result,
		FuncName: funcName,
		Operands: args,
	})
	return result
}

// EmitReturn sets a return terminator.
func (b *Builder) EmitReturn(val Value) {
	b.block.Terminator = &TermReturn{Value: val}
}

// Abandon drops the current function from the program.
func (b *Builder) Abandon() {
	fns := b.program.Functions
	if n := len(fns); n > 0 && fns[n-1] == b.function {
		b.program.Functions = fns[:n-1]
	}
	b.function, b.block = nil, nil
}
