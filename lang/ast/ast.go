// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ast defines the Abstract Syntax Tree for Kaleidoscope.
//
// Design overview:
//
//   - Expressions and top-level units are closed sets: each has a marker
//     interface with an unexported method so no other package can add
//     variants, and the visitors in visitor.go dispatch over them.
//   - Every node keeps the token that introduced it for diagnostics.
//   - String renders a fully parenthesised form that is stable enough to be
//     compared in tests. Numbers always print with six fractional digits.
//   - Nodes are built once by the parser and never mutated afterwards.
package ast

import (
	"fmt"
	"strings"

	"github.com/kccani/kaleido/lang/token"
)

// ---------------------------------------------------------------------------
// Core interfaces
// ---------------------------------------------------------------------------

// Node is the base interface that every AST node implements.
type Node interface {
	// Pos returns the position of the token that started this node.
	Pos() token.Position

	// String returns the canonical rendering of the node.
	String() string
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// UnitKind classifies a top-level unit.
type UnitKind int

const (
	KindDefinition UnitKind = iota // def name(params) body
	KindExtern                     // extern name(params)
	KindExpression                 // bare top-level expression
)

var unitKindNames = [...]string{
	KindDefinition: "definition",
	KindExtern:     "extern",
	KindExpression: "expression",
}

func (k UnitKind) String() string {
	if k >= 0 && int(k) < len(unitKindNames) {
		return unitKindNames[k]
	}
	return fmt.Sprintf("unitkind(%d)", int(k))
}

// Unit is one parsed top-level statement: a *Function, a *Prototype
// (from an extern declaration) or an *ExprUnit.
type Unit interface {
	Node
	Kind() UnitKind
	unitNode()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NumberExpr is a numeric literal.
type NumberExpr struct {
	Token token.Token
	Value float64
}

func (e *NumberExpr) exprNode()           {}
func (e *NumberExpr) Pos() token.Position { return e.Token.Pos }
func (e *NumberExpr) String() string      { return fmt.Sprintf("%f", e.Value) }

// VariableExpr references a function parameter by name. Names are resolved
// at lowering time.
type VariableExpr struct {
	Token token.Token
	Name  string
}

func (e *VariableExpr) exprNode()           {}
func (e *VariableExpr) Pos() token.Position { return e.Token.Pos }
func (e *VariableExpr) String() string      { return e.Name }

// BinaryExpr is an infix operation. Op is one of '+', '-', '*', '<'.
type BinaryExpr struct {
	Token token.Token // the operator
	Op    byte
	LHS   Expr
	RHS   Expr
}

func (e *BinaryExpr) exprNode()           {}
func (e *BinaryExpr) Pos() token.Position { return e.LHS.Pos() }
func (e *BinaryExpr) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(e.LHS.String())
	sb.WriteString(") ")
	sb.WriteByte(e.Op)
	sb.WriteString(" (")
	sb.WriteString(e.RHS.String())
	sb.WriteByte(')')
	return sb.String()
}

// CallExpr is a function call. Argument order is evaluation order.
type CallExpr struct {
	Token  token.Token // the callee identifier
	Callee string
	Args   []Expr
}

func (e *CallExpr) exprNode()           {}
func (e *CallExpr) Pos() token.Position { return e.Token.Pos }
func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Callee + "(" + strings.Join(args, ", ") + ")"
}

// ---------------------------------------------------------------------------
// Top-level units
// ---------------------------------------------------------------------------

// Prototype is a function signature: its name and parameter names. On its
// own it is the unit produced by an extern declaration.
type Prototype struct {
	Token  token.Token // the function name
	Name   string
	Params []string
}

func (p *Prototype) unitNode()           {}
func (p *Prototype) Kind() UnitKind      { return KindExtern }
func (p *Prototype) Pos() token.Position { return p.Token.Pos }
func (p *Prototype) String() string {
	return "def " + p.Name + "(" + strings.Join(p.Params, ", ") + ")"
}

// Arity returns the number of parameters.
func (p *Prototype) Arity() int { return len(p.Params) }

// Function is a full definition: def name(params) body.
type Function struct {
	Token token.Token // the def keyword
	Proto *Prototype
	Body  Expr
}

func (f *Function) unitNode()           {}
func (f *Function) Kind() UnitKind      { return KindDefinition }
func (f *Function) Pos() token.Position { return f.Token.Pos }
func (f *Function) String() string {
	return f.Proto.String() + "{" + f.Body.String() + "}"
}

// ExprUnit wraps a bare expression typed at top level.
type ExprUnit struct {
	Expr Expr
}

func (u *ExprUnit) unitNode()           {}
func (u *ExprUnit) Kind() UnitKind      { return KindExpression }
func (u *ExprUnit) Pos() token.Position { return u.Expr.Pos() }
func (u *ExprUnit) String() string      { return u.Expr.String() }
