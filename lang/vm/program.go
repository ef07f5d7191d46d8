// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"fmt"
	"strings"
)

// MaxFunctions and MaxConstants are bounded by the 16-bit immediate.
const (
	MaxFunctions = 1 << 16
	MaxConstants = 1 << 16
	MaxRegisters = 1 << 8
)

// NativeFunc is a host function callable from compiled code.
type NativeFunc func(args []float64) (float64, error)

// FuncEntry is one slot of the function table. Calls refer to slots by
// index, so a slot can be declared before its body exists and rebound
// later.
type FuncEntry struct {
	Name   string
	Offset uint32 // byte offset of the body in Code
	Arity  int
	Locals int        // registers the body needs
	Native NativeFunc // set for host functions
	Bound  bool       // has a body or a native
}

// Program is a growing unit of bytecode shared by every function compiled
// in a session.
type Program struct {
	Code      []byte
	Constants []float64
	Functions []FuncEntry

	index map[string]int
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{index: make(map[string]int)}
}

// Lookup returns the slot index of name.
func (p *Program) Lookup(name string) (int, bool) {
	idx, ok := p.index[name]
	return idx, ok
}

// Slot returns the slot index of name, creating an unbound slot if needed.
func (p *Program) Slot(name string) (int, error) {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	if idx, ok := p.index[name]; ok {
		return idx, nil
	}
	if len(p.Functions) >= MaxFunctions {
		return 0, fmt.Errorf("vm: function table full (%d entries)", MaxFunctions)
	}
	idx := len(p.Functions)
	p.Functions = append(p.Functions, FuncEntry{Name: name})
	p.index[name] = idx
	return idx, nil
}

// Define binds name to the body at offset.
func (p *Program) Define(name string, offset uint32, arity, locals int) (int, error) {
	idx, err := p.Slot(name)
	if err != nil {
		return 0, err
	}
	p.Functions[idx] = FuncEntry{Name: name, Offset: offset, Arity: arity, Locals: locals, Bound: true}
	return idx, nil
}

// Bind binds name to a host function.
func (p *Program) Bind(name string, arity int, fn NativeFunc) (int, error) {
	idx, err := p.Slot(name)
	if err != nil {
		return 0, err
	}
	p.Functions[idx] = FuncEntry{Name: name, Arity: arity, Native: fn, Bound: true}
	return idx, nil
}

// String lists the function table followed by the disassembled code.
func (p *Program) String() string {
	var sb strings.Builder
	for i, fn := range p.Functions {
		switch {
		case fn.Native != nil:
			fmt.Fprintf(&sb, "#%d %s/%d native\n", i, fn.Name, fn.Arity)
		case fn.Bound:
			fmt.Fprintf(&sb, "#%d %s/%d @%04d locals=%d\n", i, fn.Name, fn.Arity, fn.Offset/InstrSize, fn.Locals)
		default:
			fmt.Fprintf(&sb, "#%d %s unbound\n", i, fn.Name)
		}
	}
	sb.WriteString(Disassemble(p.Code))
	return sb.String()
}

// Disassemble renders bytecode one instruction per line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for i := 0; i+InstrSize <= len(code); i += InstrSize {
		in := Decode(code, i)
		idx := i / InstrSize
		if in.Op.IsWideImmediate() {
			fmt.Fprintf(&sb, "[%04d] %-12s R%d, %d\n", idx, in.Op, in.A, in.Imm())
			continue
		}
		switch in.Op.Operands() {
		case 1:
			fmt.Fprintf(&sb, "[%04d] %-12s R%d\n", idx, in.Op, in.A)
		case 2:
			fmt.Fprintf(&sb, "[%04d] %-12s R%d, R%d\n", idx, in.Op, in.A, in.B)
		case 3:
			fmt.Fprintf(&sb, "[%04d] %-12s R%d, R%d, R%d\n", idx, in.Op, in.A, in.B, in.C)
		default:
			fmt.Fprintf(&sb, "[%04d] %-12s\n", idx, in.Op)
		}
	}
	return sb.String()
}
