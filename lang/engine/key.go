// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"encoding/binary"
	"hash"
	"math"

	"golang.org/x/crypto/sha3"

	"github.com/kccani/kaleido/lang/ast"
)

// exprKey hashes the structure of e. Numbers contribute their exact bit
// pattern; the printed form rounds to six decimals and would conflate
// distinct constants.
func exprKey(e ast.Expr) [32]byte {
	h := sha3.New256()
	ast.VisitExpr[struct{}](keyWriter{h}, e)
	var key [32]byte
	h.Sum(key[:0])
	return key
}

type keyWriter struct{ h hash.Hash }

func (w keyWriter) tag(b byte) { w.h.Write([]byte{b}) }

func (w keyWriter) str(s string) {
	var n [binary.MaxVarintLen64]byte
	w.h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	w.h.Write([]byte(s))
}

func (w keyWriter) VisitNumber(e *ast.NumberExpr) struct{} {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(e.Value))
	w.tag('n')
	w.h.Write(b[:])
	return struct{}{}
}

func (w keyWriter) VisitVariable(e *ast.VariableExpr) struct{} {
	w.tag('v')
	w.str(e.Name)
	return struct{}{}
}

func (w keyWriter) VisitBinary(e *ast.BinaryExpr) struct{} {
	w.tag('b')
	w.tag(e.Op)
	ast.VisitExpr[struct{}](w, e.LHS)
	ast.VisitExpr[struct{}](w, e.RHS)
	return struct{}{}
}

func (w keyWriter) VisitCall(e *ast.CallExpr) struct{} {
	w.tag('c')
	w.str(e.Callee)
	var n [binary.MaxVarintLen64]byte
	w.h.Write(n[:binary.PutUvarint(n[:], uint64(len(e.Args)))])
	for _, a := range e.Args {
		ast.VisitExpr[struct{}](w, a)
	}
	return struct{}{}
}
