// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package codegen

import (
	"fmt"

	"github.com/kccani/kaleido/lang/vm"
)

// VerifyError describes a bytecode verification failure.
type VerifyError struct {
	Func    string // function whose body contains Offset, if any
	Offset  int
	Message string
}

func (e *VerifyError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("verify error at offset %d: %s", e.Offset, e.Message)
	}
	return fmt.Sprintf("verify error in %s at offset %d: %s", e.Func, e.Offset, e.Message)
}

// Verify checks a program for safety violations the VM would otherwise only
// detect while running:
//  1. Code is a whole number of instructions
//  2. Every bound body starts in range and reaches a RETURN or HALT
//  3. Register operands stay inside the function's window
//  4. Constant and function indices stay inside their tables
func Verify(prog *vm.Program) []VerifyError {
	var errs []VerifyError

	if rem := len(prog.Code) % vm.InstrSize; rem != 0 {
		errs = append(errs, VerifyError{
			Offset:  len(prog.Code) - rem,
			Message: "truncated instruction",
		})
	}
	for _, fn := range prog.Functions {
		if !fn.Bound || fn.Native != nil {
			continue
		}
		errs = append(errs, verifyFunction(prog, fn)...)
	}
	return errs
}

func verifyFunction(prog *vm.Program, fn vm.FuncEntry) []VerifyError {
	var errs []VerifyError
	fail := func(offset int, format string, args ...interface{}) {
		errs = append(errs, VerifyError{Func: fn.Name, Offset: offset, Message: fmt.Sprintf(format, args...)})
	}

	start := int(fn.Offset)
	if start%vm.InstrSize != 0 || start >= len(prog.Code) {
		fail(start, "body offset out of range (code size %d)", len(prog.Code))
		return errs
	}
	if fn.Locals < fn.Arity || fn.Locals > vm.MaxRegisters {
		fail(start, "window of %d registers cannot hold %d parameters", fn.Locals, fn.Arity)
	}

	for off := start; off+vm.InstrSize <= len(prog.Code); off += vm.InstrSize {
		in := vm.Decode(prog.Code, off)
		if !in.Op.Valid() {
			fail(off, "unknown opcode: %d", uint8(in.Op))
			continue
		}

		n := in.Op.Operands()
		if in.Op.IsWideImmediate() {
			n = 1
		}
		regs := [3]uint8{in.A, in.B, in.C}
		for _, r := range regs[:n] {
			if int(r) >= fn.Locals {
				fail(off, "%s uses R%d of %d", in.Op, r, fn.Locals)
			}
		}

		switch in.Op {
		case vm.OpLoadConst:
			if idx := int(in.Imm()); idx >= len(prog.Constants) {
				fail(off, "constant index %d out of bounds (pool size %d)", idx, len(prog.Constants))
			}
		case vm.OpCall:
			if idx := int(in.Imm()); idx >= len(prog.Functions) {
				fail(off, "function index %d out of bounds (table size %d)", idx, len(prog.Functions))
			}
		case vm.OpReturn, vm.OpHalt:
			return errs
		}
	}
	fail(len(prog.Code), "function does not end with return or halt")
	return errs
}
