// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import "math"

// Optimize runs all optimization passes on a program.
func Optimize(prog *Program) {
	for _, fn := range prog.Functions {
		ConstantFold(prog, fn)
		CommonSubexprEliminate(fn)
		PropagateCopies(fn)
		DeadCodeEliminate(fn)
	}
}

// Eval applies a binary op to two operands. It reports false for ops that
// are not pure arithmetic.
func Eval(op Op, a, b float64) (float64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpLt:
		// Unordered compares as less, so NaN operands yield 1.
		if !(a >= b) {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ConstantFold evaluates arithmetic on constant operands at compile time,
// adding results to the program's constant pool. It returns the number of
// instructions folded.
func ConstantFold(prog *Program, fn *Function) int {
	consts := make(map[int]float64) // value ID -> known value
	folded := 0
	for _, block := range fn.Blocks {
		for i, inst := range block.Instructions {
			switch inst.Op {
			case OpConst:
				consts[inst.Result.ID] = prog.Constants[inst.ConstIdx]
				continue
			case OpMove:
				if v, ok := consts[inst.Operands[0].ID]; ok {
					consts[inst.Result.ID] = v
				}
				continue
			}
			if len(inst.Operands) != 2 {
				continue
			}
			a, aok := consts[inst.Operands[0].ID]
			b, bok := consts[inst.Operands[1].ID]
			if !aok || !bok {
				continue
			}
			v, ok := Eval(inst.Op, a, b)
			if !ok {
				continue
			}
			block.Instructions[i] = &Instruction{
				Op:       OpConst,
				Result:   inst.Result,
				ConstIdx: addConstant(prog, v),
			}
			consts[inst.Result.ID] = v
			folded++
		}
	}
	return folded
}

// addConstant returns the pool index of c, appending it if needed.
func addConstant(prog *Program, c float64) int {
	bits := math.Float64bits(c)
	for i, k := range prog.Constants {
		if math.Float64bits(k) == bits {
			return i
		}
	}
	prog.Constants = append(prog.Constants, c)
	return len(prog.Constants) - 1
}

// DeadCodeEliminate removes instructions whose results are never used.
func DeadCodeEliminate(fn *Function) int {
	uses := make(map[int]int) // value ID -> use count
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			for _, op := range inst.Operands {
				uses[op.ID]++
			}
		}
		if term, ok := block.Terminator.(*TermReturn); ok {
			uses[term.Value.ID]++
		}
	}

	removed := 0
	changed := true
	for changed {
		changed = false
		for _, block := range fn.Blocks {
			alive := block.Instructions[:0]
			for _, inst := range block.Instructions {
				if uses[inst.Result.ID] > 0 || hasSideEffects(inst.Op) {
					alive = append(alive, inst)
					continue
				}
				for _, op := range inst.Operands {
					uses[op.ID]--
				}
				removed++
				changed = true
			}
			block.Instructions = alive
		}
	}
	return removed
}

// hasSideEffects returns true if an op has observable side effects.
// Any call may reach a native that writes output.
func hasSideEffects(op Op) bool {
	return op == OpCall
}

// CommonSubexprEliminate replaces redundant computations with a move from
// the earlier result.
func CommonSubexprEliminate(fn *Function) int {
	type exprKey struct {
		op       Op
		op1, op2 int // operand value IDs
		constIdx int
	}

	replaced := 0
	for _, block := range fn.Blocks {
		available := make(map[exprKey]Value)
		for i, inst := range block.Instructions {
			if hasSideEffects(inst.Op) || inst.Op == OpMove {
				continue
			}
			key := exprKey{op: inst.Op, op1: -1, op2: -1, constIdx: -1}
			if inst.Op == OpConst {
				key.constIdx = inst.ConstIdx
			} else {
				key.op1, key.op2 = inst.Operands[0].ID, inst.Operands[1].ID
				if (inst.Op == OpAdd || inst.Op == OpMul) && key.op1 > key.op2 {
					key.op1, key.op2 = key.op2, key.op1
				}
			}

			if existing, ok := available[key]; ok {
				block.Instructions[i] = &Instruction{
					Op:       OpMove,
					Result:   inst.Result,
					Operands: []Value{existing},
				}
				replaced++
			} else {
				available[key] = inst.Result
			}
		}
	}
	return replaced
}

// PropagateCopies rewrites every use of a move's result to the moved value.
// The moves themselves are left for DeadCodeEliminate.
func PropagateCopies(fn *Function) {
	repl := make(map[int]Value)
	resolve := func(v Value) Value {
		for {
			r, ok := repl[v.ID]
			if !ok {
				return v
			}
			v = r
		}
	}
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			for j, op := range inst.Operands {
				inst.Operands[j] = resolve(op)
			}
			if inst.Op == OpMove {
				repl[inst.Result.ID] = inst.Operands[0]
			}
		}
		if term, ok := block.Terminator.(*TermReturn); ok {
			term.Value = resolve(term.Value)
		}
	}
}
