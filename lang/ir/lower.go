// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ir

import (
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/token"
)

// Lowering errors. Every *Error wraps exactly one of these.
var (
	ErrUnknownVariable = errors.New("unknown variable name")
	ErrUnknownFunction = errors.New("undefined function")
	ErrArityMismatch   = errors.New("incorrect number of arguments")
	ErrDuplicateParam  = errors.New("duplicate parameter name")
	ErrUnknownOperator = errors.New("unknown binary operator")
)

// Error is a lowering error at a source position.
type Error struct {
	Pos token.Position
	Err error
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Pos, e.Err, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Lowerer translates top-level units into IR. It remembers every prototype
// it has seen, from externs and definitions alike, so later units can call
// them. A Lowerer is not safe for concurrent use.
type Lowerer struct {
	protos map[string]*ast.Prototype

	b     *Builder
	scope map[string]Value
	err   error // first error of the unit being lowered
}

// NewLowerer creates a Lowerer with an empty symbol table.
func NewLowerer() *Lowerer {
	return &Lowerer{protos: make(map[string]*ast.Prototype)}
}

// Lower translates u. A definition yields one function, a top-level
// expression yields AnonExprName, and an extern yields an empty program
// while recording the signature. On error the symbol table is left as it
// was before the call.
func (l *Lowerer) Lower(u ast.Unit) (*Program, error) {
	l.b, l.err = NewBuilder(), nil
	if err := ast.VisitUnit[error](l, u); err != nil {
		return nil, err
	}
	return l.b.Program(), nil
}

// Lookup returns the prototype registered under name.
func (l *Lowerer) Lookup(name string) (*ast.Prototype, bool) {
	p, ok := l.protos[name]
	return p, ok
}

// Names returns the sorted names of every known function.
func (l *Lowerer) Names() []string {
	names := make([]string, 0, len(l.protos))
	for name := range l.protos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declare records a signature without a body.
func (l *Lowerer) Declare(p *ast.Prototype) error {
	if err := checkParams(p); err != nil {
		return err
	}
	l.protos[p.Name] = p
	return nil
}

// Forget removes name from the symbol table.
func (l *Lowerer) Forget(name string) {
	delete(l.protos, name)
}

func checkParams(p *ast.Prototype) error {
	seen := mapset.NewSet()
	for _, name := range p.Params {
		if !seen.Add(name) {
			return &Error{Pos: p.Pos(), Err: ErrDuplicateParam, Msg: fmt.Sprintf("%q in %s", name, p.Name)}
		}
	}
	return nil
}

func (l *Lowerer) fail(pos token.Position, err error, format string, args ...interface{}) Value {
	if l.err == nil {
		l.err = &Error{Pos: pos, Err: err, Msg: fmt.Sprintf(format, args...)}
	}
	return Value{}
}

// ---------------------------------------------------------------------------
// Units
// ---------------------------------------------------------------------------

func (l *Lowerer) VisitPrototype(p *ast.Prototype) error {
	return l.Declare(p)
}

func (l *Lowerer) VisitFunction(f *ast.Function) error {
	if err := checkParams(f.Proto); err != nil {
		return err
	}
	name := f.Proto.Name
	prev, had := l.protos[name]
	// Registered before the body so the function can call itself.
	l.protos[name] = f.Proto
	if err := l.lowerFunction(name, f.Proto.Params, f.Body); err != nil {
		if had {
			l.protos[name] = prev
		} else {
			delete(l.protos, name)
		}
		return err
	}
	return nil
}

func (l *Lowerer) VisitExpression(u *ast.ExprUnit) error {
	return l.lowerFunction(AnonExprName, nil, u.Expr)
}

func (l *Lowerer) lowerFunction(name string, params []string, body ast.Expr) error {
	fn := l.b.StartFunction(name, params)
	l.scope = make(map[string]Value, len(params))
	for i, p := range params {
		l.scope[p] = fn.Params[i]
	}
	l.b.SetBlock(l.b.NewBlock("entry"))

	ret := ast.VisitExpr[Value](l, body)
	if l.err != nil {
		l.b.Abandon()
		return l.err
	}
	l.b.EmitReturn(ret)
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (l *Lowerer) VisitNumber(e *ast.NumberExpr) Value {
	return l.b.EmitConst(l.b.NewValue(""), l.b.AddConstant(e.Value))
}

func (l *Lowerer) VisitVariable(e *ast.VariableExpr) Value {
	v, ok := l.scope[e.Name]
	if !ok {
		return l.fail(e.Pos(), ErrUnknownVariable, "%s", e.Name)
	}
	return v
}

func (l *Lowerer) VisitBinary(e *ast.BinaryExpr) Value {
	lhs := ast.VisitExpr[Value](l, e.LHS)
	rhs := ast.VisitExpr[Value](l, e.RHS)
	if l.err != nil {
		return Value{}
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		return l.fail(e.Token.Pos, ErrUnknownOperator, "%q", e.Op)
	}
	return l.b.Emit(op, l.b.NewValue(""), lhs, rhs)
}

func (l *Lowerer) VisitCall(e *ast.CallExpr) Value {
	proto, ok := l.protos[e.Callee]
	if !ok {
		return l.fail(e.Pos(), ErrUnknownFunction, "%s", e.Callee)
	}
	if len(e.Args) != proto.Arity() {
		return l.fail(e.Pos(), ErrArityMismatch, "%s takes %d, got %d", e.Callee, proto.Arity(), len(e.Args))
	}
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		args[i] = ast.VisitExpr[Value](l, a)
		if l.err != nil {
			return Value{}
		}
	}
	return l.b.EmitCall(l.b.NewValue(""), e.Callee, args...)
}
