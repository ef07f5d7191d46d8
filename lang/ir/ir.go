// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ir defines the SSA-form Intermediate Representation for Kaleidoscope.
//
// Every value is a float64. The language has no control flow, so each
// function is a single entry block ending in a return; the block structure
// is kept so the listing and the passes read like any other SSA form.
// Lowering from the AST lives in lower.go, the passes in optimize.go.
package ir

import (
	"fmt"
	"strings"
)

// AnonExprName is the name of the zero-arity function a top-level
// expression is lowered into.
const AnonExprName = "__anon_expr"

// Program is the output of lowering one top-level unit.
type Program struct {
	Functions []*Function
	Constants []float64
}

// Function represents a single function in SSA form. The first len(Params)
// values are the parameters, in order.
type Function struct {
	Name   string
	Params []Value
	Blocks []*BasicBlock
	Locals int // number of values allocated, parameters included
}

// Entry returns the entry block, or nil for a function without a body.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// Instructions returns the number of instructions over all blocks.
func (f *Function) Instructions() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instructions)
	}
	return n
}

func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	fmt.Fprintf(&sb, "func %s(%s) {\n", f.Name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Label)
		for _, inst := range b.Instructions {
			fmt.Fprintf(&sb, "  %s\n", inst)
		}
		if b.Terminator != nil {
			fmt.Fprintf(&sb, "  %s\n", b.Terminator)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

// BasicBlock is a straight-line sequence of instructions with a terminator.
type BasicBlock struct {
	Label        string
	Instructions []*Instruction
	Terminator   Terminator
}

// Value represents an SSA value (virtual register).
type Value struct {
	ID   int
	Name string // optional debug name
}

func (v Value) String() string {
	if v.Name != "" {
		return fmt.Sprintf("%%%s", v.Name)
	}
	return fmt.Sprintf("%%v%d", v.ID)
}

// Op is an SSA instruction opcode.
type Op int

const (
	OpConst Op = iota // load constant
	OpAdd
	OpSub
	OpMul
	OpLt   // 1.0 if a < b, else 0.0
	OpCall // call function by name
	OpMove // copy a value
)

var opNames = map[Op]string{
	OpConst: "const",
	OpAdd:   "fadd",
	OpSub:   "fsub",
	OpMul:   "fmul",
	OpLt:    "fcmplt",
	OpCall:  "call",
	OpMove:  "move",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", op)
}

// binaryOps maps source operators to their instruction.
var binaryOps = map[byte]Op{
	'+': OpAdd,
	'-': OpSub,
	'*': OpMul,
	'<': OpLt,
}

// Instruction is a single SSA instruction.
type Instruction struct {
	Op       Op
	Result   Value   // destination value
	Operands []Value // source values
	ConstIdx int     // index into the constant pool (for OpConst)
	FuncName string  // callee (for OpCall)
}

func (inst *Instruction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s", inst.Result, inst.Op)
	if inst.Op == OpCall {
		sb.WriteString(" @" + inst.FuncName)
	}
	for _, op := range inst.Operands {
		sb.WriteString(" " + op.String())
	}
	if inst.Op == OpConst {
		fmt.Fprintf(&sb, " $%d", inst.ConstIdx)
	}
	return sb.String()
}

// Terminator ends a basic block.
type Terminator interface {
	terminator()
	String() string
}

// TermReturn returns a value from the function.
type TermReturn struct {
	Value Value
}

func (t *TermReturn) terminator()    {}
func (t *TermReturn) String() string { return fmt.Sprintf("ret %s", t.Value) }

// String prints every function of the program followed by its constant
// pool.
func (p *Program) String() string {
	var sb strings.Builder
	for _, fn := range p.Functions {
		sb.WriteString(fn.String())
	}
	for i, c := range p.Constants {
		fmt.Fprintf(&sb, "$%d = %g\n", i, c)
	}
	return sb.String()
}
