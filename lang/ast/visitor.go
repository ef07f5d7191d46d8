// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ast

import "fmt"

// ExprVisitor handles every expression variant. Adding a variant to the
// package breaks every implementation until it is handled.
type ExprVisitor[R any] interface {
	VisitNumber(*NumberExpr) R
	VisitVariable(*VariableExpr) R
	VisitBinary(*BinaryExpr) R
	VisitCall(*CallExpr) R
}

// VisitExpr dispatches e to the matching method of v.
func VisitExpr[R any](v ExprVisitor[R], e Expr) R {
	switch e := e.(type) {
	case *NumberExpr:
		return v.VisitNumber(e)
	case *VariableExpr:
		return v.VisitVariable(e)
	case *BinaryExpr:
		return v.VisitBinary(e)
	case *CallExpr:
		return v.VisitCall(e)
	}
	panic(fmt.Sprintf("ast: unknown expression %T", e))
}

// UnitVisitor handles every top-level unit variant.
type UnitVisitor[R any] interface {
	VisitFunction(*Function) R
	VisitPrototype(*Prototype) R
	VisitExpression(*ExprUnit) R
}

// VisitUnit dispatches u to the matching method of v.
func VisitUnit[R any](v UnitVisitor[R], u Unit) R {
	switch u := u.(type) {
	case *Function:
		return v.VisitFunction(u)
	case *Prototype:
		return v.VisitPrototype(u)
	case *ExprUnit:
		return v.VisitExpression(u)
	}
	panic(fmt.Sprintf("ast: unknown unit %T", u))
}

// Inspect traverses e in depth-first order, calling fn for each expression.
// If fn returns false, the children of that node are skipped.
func Inspect(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch e := e.(type) {
	case *BinaryExpr:
		Inspect(e.LHS, fn)
		Inspect(e.RHS, fn)
	case *CallExpr:
		for _, a := range e.Args {
			Inspect(a, fn)
		}
	}
}

// Callees returns the distinct function names called from e, in first-use
// order.
func Callees(e Expr) []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	Inspect(e, func(n Expr) bool {
		if c, ok := n.(*CallExpr); ok && !seen[c.Callee] {
			seen[c.Callee] = true
			names = append(names, c.Callee)
		}
		return true
	})
	return names
}
