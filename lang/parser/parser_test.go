// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/token"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// ignoreTokens compares trees by shape and payload only.
var ignoreTokens = cmpopts.IgnoreTypes(token.Token{})

// mustParse asserts that src parses without errors and returns its units.
func mustParse(t *testing.T, src string) []ast.Unit {
	t.Helper()
	units, errs := ParseString("test.kld", src)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		t.Fatalf("unexpected parse errors:\n%s", strings.Join(msgs, "\n"))
	}
	return units
}

// mustParseExpr parses src as a single expression.
func mustParseExpr(t *testing.T, src string) ast.Expr {
	t.Helper()
	e, err := ParseExpr(lexer.NewString("test.kld", src))
	require.NoError(t, err)
	return e
}

func mustParseFile(t *testing.T, name string) []ast.Unit {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer f.Close()

	units, errs := Parse(name, f)
	require.Empty(t, errs)
	return units
}

func num(v float64) *ast.NumberExpr      { return &ast.NumberExpr{Value: v} }
func ident(name string) *ast.VariableExpr { return &ast.VariableExpr{Name: name} }

func bin(op byte, l, r ast.Expr) *ast.BinaryExpr {
	return &ast.BinaryExpr{Op: op, LHS: l, RHS: r}
}

func call(callee string, args ...ast.Expr) *ast.CallExpr {
	return &ast.CallExpr{Callee: callee, Args: args}
}

// ---------------------------------------------------------------------------
// Precedence
// ---------------------------------------------------------------------------

func TestPrecedenceTable(t *testing.T) {
	assert.Equal(t, 100, Precedence('<'))
	assert.Equal(t, 200, Precedence('+'))
	assert.Equal(t, 300, Precedence('-'))
	assert.Equal(t, 400, Precedence('*'))
	for _, op := range []byte("/;(),=>") {
		assert.Equal(t, -1, Precedence(op), "op %q", op)
	}
}

func TestParseBinary(t *testing.T) {
	cases := []struct {
		src  string
		want ast.Expr
	}{
		{"3 + 2 * 5", bin('+', num(3), bin('*', num(2), num(5)))},
		{"3 * 2 + 5", bin('+', bin('*', num(3), num(2)), num(5))},
		{"1 + 2 + 3", bin('+', bin('+', num(1), num(2)), num(3))},
		// '-' binds tighter than '+'.
		{"a + b - c", bin('+', ident("a"), bin('-', ident("b"), ident("c")))},
		{"a - b + c", bin('+', bin('-', ident("a"), ident("b")), ident("c"))},
		{"a < b + 1", bin('<', ident("a"), bin('+', ident("b"), num(1)))},
		{"a * b < c * d", bin('<', bin('*', ident("a"), ident("b")), bin('*', ident("c"), ident("d")))},
		{"(1 + 2) * 3", bin('*', bin('+', num(1), num(2)), num(3))},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			got := mustParseExpr(t, c.src)
			if diff := cmp.Diff(c.want, got, ignoreTokens); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderNested(t *testing.T) {
	e := mustParseExpr(t, "3 * (2 + 5 * 4)")
	assert.Equal(t, "(3.000000) * ((2.000000) + ((5.000000) * (4.000000)))", e.String())
}

// An unknown operator ends the expression rather than failing it.
func TestUnknownOperatorStopsClimb(t *testing.T) {
	l := lexer.NewString("", "1 + 2 / 3")
	e, err := ParseExpr(l)
	require.NoError(t, err)
	assert.Equal(t, "(1.000000) + (2.000000)", e.String())

	next, err := l.Peek()
	require.NoError(t, err)
	assert.True(t, next.IsSpecial('/'))
}

// ---------------------------------------------------------------------------
// Primaries
// ---------------------------------------------------------------------------

func TestParseCall(t *testing.T) {
	cases := []struct {
		src  string
		want ast.Expr
	}{
		{"f()", call("f")},
		{"f(1)", call("f", num(1))},
		{"f(x, y + 1)", call("f", ident("x"), bin('+', ident("y"), num(1)))},
		{"f(g(1), (2))", call("f", call("g", num(1)), num(2))},
		{"f", ident("f")},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			if diff := cmp.Diff(c.want, mustParseExpr(t, c.src), ignoreTokens); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNumberRendering(t *testing.T) {
	for _, c := range []struct{ src, want string }{
		{"3", "3.000000"},
		{"0", "0.000000"},
		{"3.14", "3.140000"},
		{".5", "0.500000"},
		{"123.", "123.000000"},
		{"2.718281", "2.718281"},
		{"1000000.000001", "1000000.000001"},
	} {
		assert.Equal(t, c.want, mustParseExpr(t, c.src).String(), c.src)
	}
}

// Every decimal with at most six fractional digits survives lexing and
// rendering unchanged.
func TestNumberRoundTrip(t *testing.T) {
	for i := 0; i < 5000; i++ {
		whole, frac := i*7919%100000, i*104729%1000000
		src := fmt.Sprintf("%d.%06d", whole, frac)
		assert.Equal(t, src, mustParseExpr(t, src).String())
	}
}

func TestPositions(t *testing.T) {
	units := mustParse(t, "def f(x)\n  x * 2")
	fn := units[0].(*ast.Function)
	assert.Equal(t, token.Position{File: "test.kld", Line: 1, Column: 1}, fn.Pos())
	assert.Equal(t, token.Position{File: "test.kld", Line: 1, Column: 5}, fn.Proto.Pos())
	body := fn.Body.(*ast.BinaryExpr)
	assert.Equal(t, 2, body.Token.Pos.Line)
	assert.Equal(t, 5, body.Token.Pos.Column)
}

// ---------------------------------------------------------------------------
// Prototypes and units
// ---------------------------------------------------------------------------

func TestParsePrototype(t *testing.T) {
	proto, err := ParsePrototype(lexer.NewString("", "func(x y)"))
	require.NoError(t, err)
	assert.Equal(t, "def func(x, y)", proto.String())
	assert.Equal(t, 2, proto.Arity())

	proto, err = ParsePrototype(lexer.NewString("", "nullary()"))
	require.NoError(t, err)
	assert.Equal(t, "def nullary()", proto.String())
	assert.Empty(t, proto.Params)
}

func TestUnitKinds(t *testing.T) {
	units := mustParse(t, "def f(x) x; extern g(); f(1)")
	require.Len(t, units, 3)
	assert.Equal(t, ast.KindDefinition, units[0].Kind())
	assert.Equal(t, ast.KindExtern, units[1].Kind())
	assert.Equal(t, ast.KindExpression, units[2].Kind())
}

func TestSimpleFile(t *testing.T) {
	units := mustParseFile(t, "simple.kld")
	require.Len(t, units, 2)

	_, ok := units[0].(*ast.Function)
	require.True(t, ok, "got %T", units[0])
	assert.Equal(t, "def fib(x){(fib((x) - (1.000000))) + (fib((x) - (2.000000)))}", units[0].String())

	_, ok = units[1].(*ast.ExprUnit)
	require.True(t, ok, "got %T", units[1])
	assert.Equal(t, "fib(6.000000)", units[1].String())
}

func TestExternFile(t *testing.T) {
	units := mustParseFile(t, "extern.kld")
	require.Len(t, units, 2)

	_, ok := units[0].(*ast.Prototype)
	require.True(t, ok, "got %T", units[0])
	assert.Equal(t, "def atan2(x, y)", units[0].String())
	assert.Equal(t, "atan2(13.000000, (5.000000) + (8.000000))", units[1].String())
}

func TestExprFile(t *testing.T) {
	units := mustParseFile(t, "expr.kld")
	got := make([]string, len(units))
	for i, u := range units {
		got[i] = u.String()
	}
	want := []string{
		"def sq(x){(x) * (x)}",
		"def dist(a, b){(sq(a)) + (sq(b))}",
		"(3.000000) + ((2.000000) * (5.000000))",
		"((3.000000) * (2.000000)) + (5.000000)",
		"(3.000000) * ((2.000000) + ((5.000000) * (4.000000)))",
		"(dist(3.000000, 4.000000)) < (30.000000)",
	}
	assert.Equal(t, want, got)
}

func TestCommentsAreInvisible(t *testing.T) {
	units := mustParse(t, "# def broken(\n1 # + (\n# ;;;\n")
	require.Len(t, units, 1)
	assert.Equal(t, "1.000000", units[0].String())
}

func TestSemicolonsYieldNoUnits(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100} {
		units := mustParse(t, strings.Repeat(";", n))
		assert.Empty(t, units, "%d semicolons", n)
	}

	p := NewString("", ";;;")
	_, err := p.Next()
	assert.Equal(t, io.EOF, err)
	_, err = p.Next()
	assert.Equal(t, io.EOF, err)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestStructuralErrors(t *testing.T) {
	cases := []struct {
		src  string
		want error
		got  string
	}{
		{"(3 + 2", ErrExpectedCloseParen, "EOF"},
		{"(3 + 2 4", ErrExpectedCloseParen, "NUMBER(4)"},
		{")", ErrExpectedPrimary, "SPECIAL())"},
		{"1 +", ErrExpectedPrimary, "EOF"},
		{"f(1, )", ErrExpectedPrimary, "SPECIAL())"},
		{"f(1 2)", ErrExpectedArgSeparator, "NUMBER(2)"},
		{"f(1", ErrExpectedArgSeparator, "EOF"},
		{"def 1(x) x", ErrExpectedFuncName, "NUMBER(1)"},
		{"extern (x)", ErrExpectedFuncName, "SPECIAL(()"},
		{"def f x", ErrExpectedProtoOpen, "IDENT(x)"},
		{"extern f(x, y)", ErrExpectedProtoClose, "SPECIAL(,)"},
		{"extern f(x", ErrExpectedProtoClose, "EOF"},
		{"def f(x)", ErrExpectedPrimary, "EOF"},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			unit, err := NewString("", c.src).Next()
			require.Error(t, err)
			assert.Nil(t, unit)
			assert.True(t, errors.Is(err, c.want), "got %v", err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, c.got, perr.Got.String())
			assert.False(t, IsLexical(err))
		})
	}
}

func TestUnbalancedParenIsNotTruncated(t *testing.T) {
	units, errs := ParseString("", "(3 + 2")
	assert.Empty(t, units)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrExpectedCloseParen)
}

func TestRecovery(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "errors.kld"))
	require.NoError(t, err)
	defer f.Close()

	units, errs := Parse("errors.kld", f)
	require.Len(t, units, 2)
	assert.Equal(t, "def ok(x){x}", units[0].String())
	assert.Equal(t, "ok(1.000000)", units[1].String())

	want := []struct {
		err       error
		line, col int
	}{
		{ErrExpectedCloseParen, 2, 7},
		{ErrExpectedArgSeparator, 3, 7},
		{ErrExpectedFuncName, 4, 5},
		{ErrExpectedProtoClose, 5, 13},
	}
	require.Len(t, errs, len(want))
	for i, w := range want {
		var perr *Error
		require.True(t, errors.As(errs[i], &perr), "error %d: %v", i, errs[i])
		assert.ErrorIs(t, perr, w.err)
		assert.Equal(t, w.line, perr.Pos.Line, "error %d", i)
		assert.Equal(t, w.col, perr.Pos.Column, "error %d", i)
	}
}

// Recovery stops in front of a keyword so the next definition survives.
func TestRecoveryKeepsNextDefinition(t *testing.T) {
	p := NewString("", "1 + def f(x) x")
	_, err := p.Next()
	require.ErrorIs(t, err, ErrExpectedPrimary)

	unit, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "def f(x){x}", unit.String())
}

func TestLexicalErrorIsFatal(t *testing.T) {
	units, errs := ParseString("", "def f(x) x; f(1.2.3); f(2)")
	require.Len(t, units, 1)
	require.Len(t, errs, 1)
	assert.True(t, IsLexical(errs[0]))
	assert.ErrorIs(t, errs[0], lexer.ErrMalformedNumber)

	p := NewString("", "1..2; 3")
	_, err := p.Next()
	require.ErrorIs(t, err, lexer.ErrMalformedNumber)
	_, err2 := p.Next()
	assert.Equal(t, err, err2)
}
