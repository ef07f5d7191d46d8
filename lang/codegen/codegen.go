// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package codegen translates SSA IR into VM bytecode.
//
// Generation is incremental: each call appends functions to one shared
// vm.Program. Calls are emitted against function slots resolved by name,
// so a callee may be declared, defined or redefined after its caller was
// compiled.
package codegen

import (
	"errors"
	"fmt"
	"math"

	"github.com/kccani/kaleido/lang/ir"
	"github.com/kccani/kaleido/lang/vm"
)

// ErrTooManyRegisters is returned when a function needs more live values
// than a register window holds.
var ErrTooManyRegisters = errors.New("codegen: too many live values")

// ErrTooManyConstants is returned when the constant pool is full.
var ErrTooManyConstants = errors.New("codegen: constant pool full")

// Generator translates IR to bytecode.
type Generator struct {
	prog   *vm.Program
	consts map[uint64]int // constant bit pattern -> pool index

	// per-function state
	regMap  map[int]uint8 // SSA value ID -> register number
	lastUse map[int]int   // SSA value ID -> index of last reading instruction
	free    []uint8       // registers available for reuse
	nextReg int           // high-water mark
}

// New creates a generator appending to prog.
func New(prog *vm.Program) *Generator {
	g := &Generator{
		prog:   prog,
		consts: make(map[uint64]int),
	}
	for i, c := range prog.Constants {
		if _, ok := g.consts[math.Float64bits(c)]; !ok {
			g.consts[math.Float64bits(c)] = i
		}
	}
	return g
}

// Program returns the program being generated.
func (g *Generator) Program() *vm.Program { return g.prog }

// Generate compiles every function of p and binds each to its name. It
// returns the slot of each function in order. A function that fails to
// compile leaves the program unchanged.
func (g *Generator) Generate(p *ir.Program) ([]int, error) {
	slots := make([]int, 0, len(p.Functions))
	for _, fn := range p.Functions {
		slot, err := g.generateFunction(p, fn)
		if err != nil {
			return slots, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (g *Generator) generateFunction(p *ir.Program, fn *ir.Function) (int, error) {
	g.regMap = make(map[int]uint8)
	g.lastUse = liveness(fn)
	g.free = g.free[:0]
	g.nextReg = 0

	var (
		offset = len(g.prog.Code)
		consts = len(g.prog.Constants)
		code   = g.prog.Code
		err    error
	)
	code, err = g.emitFunction(code, p, fn)
	if err != nil {
		g.rollbackConstants(consts)
		return 0, err
	}
	g.prog.Code = code
	return g.prog.Define(fn.Name, uint32(offset), len(fn.Params), g.nextReg)
}

func (g *Generator) rollbackConstants(n int) {
	for _, c := range g.prog.Constants[n:] {
		delete(g.consts, math.Float64bits(c))
	}
	g.prog.Constants = g.prog.Constants[:n]
}

func (g *Generator) emitFunction(code []byte, p *ir.Program, fn *ir.Function) ([]byte, error) {
	// Parameters arrive in R0..R(n-1).
	for _, param := range fn.Params {
		if _, err := g.allocReg(param); err != nil {
			return nil, err
		}
	}
	pos := 0
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			var err error
			if code, err = g.emitInstruction(code, p, inst, pos); err != nil {
				return nil, err
			}
			pos++
		}
		ret, ok := block.Terminator.(*ir.TermReturn)
		if !ok {
			return nil, fmt.Errorf("block %s has no return", block.Label)
		}
		r, err := g.getReg(ret.Value)
		if err != nil {
			return nil, err
		}
		code = vm.Append(code, vm.OpReturn, r, 0, 0)
	}
	return code, nil
}

// liveness maps every value to the position of its last use. The
// terminator counts as a use after all instructions.
func liveness(fn *ir.Function) map[int]int {
	last := make(map[int]int)
	pos := 0
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			for _, op := range inst.Operands {
				last[op.ID] = pos
			}
			pos++
		}
		if ret, ok := block.Terminator.(*ir.TermReturn); ok {
			last[ret.Value.ID] = math.MaxInt
		}
	}
	return last
}

var binaryOps = map[ir.Op]vm.Opcode{
	ir.OpAdd: vm.OpAdd,
	ir.OpSub: vm.OpSub,
	ir.OpMul: vm.OpMul,
	ir.OpLt:  vm.OpLt,
}

func (g *Generator) emitInstruction(code []byte, p *ir.Program, inst *ir.Instruction, pos int) ([]byte, error) {
	srcs := make([]uint8, len(inst.Operands))
	for i, op := range inst.Operands {
		r, err := g.getReg(op)
		if err != nil {
			return nil, err
		}
		srcs[i] = r
	}
	// Operands dying here free their registers before the result is
	// allocated; every instruction reads its sources before writing.
	for _, op := range inst.Operands {
		g.release(op, pos)
	}
	dst, err := g.allocReg(inst.Result)
	if err != nil {
		return nil, err
	}

	switch inst.Op {
	case ir.OpConst:
		idx, err := g.constant(p.Constants[inst.ConstIdx])
		if err != nil {
			return nil, err
		}
		code = vm.AppendWide(code, vm.OpLoadConst, dst, uint16(idx))

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpLt:
		code = vm.Append(code, binaryOps[inst.Op], dst, srcs[0], srcs[1])

	case ir.OpMove:
		code = vm.Append(code, vm.OpMove, dst, srcs[0], 0)

	case ir.OpCall:
		slot, err := g.prog.Slot(inst.FuncName)
		if err != nil {
			return nil, err
		}
		for _, r := range srcs {
			code = vm.Append(code, vm.OpPush, r, 0, 0)
		}
		code = vm.AppendWide(code, vm.OpCall, dst, uint16(slot))

	default:
		return nil, fmt.Errorf("unsupported op %s", inst.Op)
	}

	// A result nobody reads is dead as soon as it is written.
	if _, used := g.lastUse[inst.Result.ID]; !used {
		g.release(inst.Result, pos)
	}
	return code, nil
}

// constant interns c in the program's pool.
func (g *Generator) constant(c float64) (int, error) {
	bits := math.Float64bits(c)
	if idx, ok := g.consts[bits]; ok {
		return idx, nil
	}
	if len(g.prog.Constants) >= vm.MaxConstants {
		return 0, ErrTooManyConstants
	}
	idx := len(g.prog.Constants)
	g.prog.Constants = append(g.prog.Constants, c)
	g.consts[bits] = idx
	return idx, nil
}

// ---------------------------------------------------------------------------
// Register allocation
// ---------------------------------------------------------------------------

func (g *Generator) allocReg(v ir.Value) (uint8, error) {
	if r, ok := g.regMap[v.ID]; ok {
		return r, nil
	}
	var r uint8
	if n := len(g.free); n > 0 {
		r = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		if g.nextReg >= vm.MaxRegisters {
			return 0, ErrTooManyRegisters
		}
		r = uint8(g.nextReg)
		g.nextReg++
	}
	g.regMap[v.ID] = r
	return r, nil
}

func (g *Generator) getReg(v ir.Value) (uint8, error) {
	r, ok := g.regMap[v.ID]
	if !ok {
		return 0, fmt.Errorf("value %s used before definition", v)
	}
	return r, nil
}

// release frees v's register if pos is its last use.
func (g *Generator) release(v ir.Value, pos int) {
	r, ok := g.regMap[v.ID]
	if !ok {
		return
	}
	if last, used := g.lastUse[v.ID]; used && last != pos {
		return
	}
	delete(g.regMap, v.ID)
	g.free = append(g.free, r)
}
