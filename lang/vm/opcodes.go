// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements a register-based virtual machine for compiled
// Kaleidoscope functions. Every register holds a float64. Each call gets a
// fresh window of up to 256 registers, and arguments travel over a value
// stack.
//
// Instructions are 4 bytes wide, stored little-endian:
//
//	Standard 3-address:  [opcode:8][a:8][b:8][c:8]
//	Wide-immediate:      [opcode:8][a:8][imm_hi:8][imm_lo:8]  → imm16 = (imm_hi<<8)|imm_lo
package vm

import "encoding/binary"

// Opcode is an 8-bit instruction code.
type Opcode uint8

const (
	// ---- Arithmetic (register-register) ------------------------------------
	// Result is stored in R[a]; operands are R[b] and R[c].

	// OpAdd performs R[a] = R[b] + R[c].
	OpAdd Opcode = iota
	// OpSub performs R[a] = R[b] - R[c].
	OpSub
	// OpMul performs R[a] = R[b] * R[c].
	OpMul
	// OpLt performs R[a] = 1 if R[b] < R[c] or either is NaN, else 0.
	OpLt

	// ---- Load/Move ---------------------------------------------------------

	// OpLoadConst loads R[a] = Constants[imm16].
	OpLoadConst
	// OpMove performs R[a] = R[b].
	OpMove

	// ---- Calls -------------------------------------------------------------

	// OpPush pushes R[a] onto the value stack as the next call argument.
	OpPush
	// OpCall invokes Functions[imm16] with the arguments pushed since the
	// current frame began. R[a] receives the return value.
	OpCall
	// OpReturn ends the current function, returning R[a] to the caller.
	OpReturn
	// OpHalt stops execution with R[a] as the result.
	OpHalt

	// opcodeCount must remain the last constant.
	opcodeCount
)

// opcodeInfo groups the human-readable name and operand count for an opcode.
type opcodeInfo struct {
	name     string
	operands int
}

var opcodeTable = [opcodeCount]opcodeInfo{
	OpAdd:       {"ADD", 3},
	OpSub:       {"SUB", 3},
	OpMul:       {"MUL", 3},
	OpLt:        {"LT", 3},
	OpLoadConst: {"LOAD_CONST", 2}, // dst reg + constant index imm16
	OpMove:      {"MOVE", 2},
	OpPush:      {"PUSH", 1},
	OpCall:      {"CALL", 2}, // dst reg + function index imm16
	OpReturn:    {"RETURN", 1},
	OpHalt:      {"HALT", 1},
}

// String returns the mnemonic name of the opcode.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// Operands returns the number of explicit operands encoded in the
// instruction word for the opcode.
func (op Opcode) Operands() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].operands
}

// IsWideImmediate reports whether the opcode uses the [op:8][a:8][imm:16]
// encoding rather than the standard [op:8][a:8][b:8][c:8] form.
func (op Opcode) IsWideImmediate() bool {
	return op == OpLoadConst || op == OpCall
}

// InstrSize is the width in bytes of every instruction.
const InstrSize = 4

// Instr is a decoded instruction word.
type Instr struct {
	Op      Opcode
	A, B, C uint8
}

// Imm returns the wide immediate formed by B and C.
func (in Instr) Imm() uint16 { return uint16(in.B)<<8 | uint16(in.C) }

// Decode decodes the instruction at byte offset off.
func Decode(code []byte, off int) Instr {
	word := binary.LittleEndian.Uint32(code[off:])
	return Instr{
		Op: Opcode(word & 0xFF),
		A:  uint8((word >> 8) & 0xFF),
		B:  uint8((word >> 16) & 0xFF),
		C:  uint8((word >> 24) & 0xFF),
	}
}

// Append encodes a standard 3-address instruction onto code.
func Append(code []byte, op Opcode, a, b, c uint8) []byte {
	return binary.LittleEndian.AppendUint32(code, uint32(op)|uint32(a)<<8|uint32(b)<<16|uint32(c)<<24)
}

// AppendWide encodes a wide-immediate instruction onto code. imm is split
// big-endian into the b and c byte slots.
func AppendWide(code []byte, op Opcode, a uint8, imm uint16) []byte {
	return Append(code, op, a, uint8(imm>>8), uint8(imm&0xFF))
}
