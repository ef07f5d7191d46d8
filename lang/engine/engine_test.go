// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"bytes"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/ir"
	"github.com/kccani/kaleido/lang/parser"
	"github.com/kccani/kaleido/lang/vm"
)

func newEngine(t *testing.T, mod func(*Config)) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg := DefaultConfig
	cfg.Output = &out
	if mod != nil {
		mod(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e, &out
}

// eval evaluates every unit of src, failing the test on any error, and
// returns the last result.
func eval(t *testing.T, e *Engine, src string) Result {
	t.Helper()
	results, errs := e.EvalString("test.kld", src, true)
	require.Empty(t, errs)
	require.NotEmpty(t, results)
	return results[len(results)-1]
}

// evalErr evaluates src and returns the first error.
func evalErr(t *testing.T, e *Engine, src string) error {
	t.Helper()
	_, errs := e.EvalString("test.kld", src, true)
	require.NotEmpty(t, errs, "expected an error from %q", src)
	return errs[0]
}

func TestEvalExpression(t *testing.T) {
	e, _ := newEngine(t, nil)

	_, ok := e.Peek()
	assert.False(t, ok, "no value before the first expression")

	res := eval(t, e, "4 + 5")
	assert.Equal(t, ast.KindExpression, res.Kind)
	assert.Equal(t, ir.AnonExprName, res.Name)
	assert.Equal(t, 9.0, res.Value)
	assert.NotZero(t, res.Gas)

	v, ok := e.Peek()
	require.True(t, ok)
	assert.Equal(t, 9.0, v)
	v, ok = e.Peek()
	require.True(t, ok, "Peek does not consume")
	assert.Equal(t, 9.0, v)

	v, ok = e.Get()
	require.True(t, ok)
	assert.Equal(t, 9.0, v)
	_, ok = e.Get()
	assert.False(t, ok, "Get consumes")
}

func TestDefinitions(t *testing.T) {
	e, _ := newEngine(t, nil)
	res := eval(t, e, "def sq(x) x * x")
	assert.Equal(t, Result{Kind: ast.KindDefinition, Name: "sq"}, res)

	res = eval(t, e, "def dist(a b) sq(a) + sq(b); dist(3, 4)")
	assert.Equal(t, 25.0, res.Value)
	assert.Equal(t, []string{"dist", "sq"}, e.Functions())
}

func TestExternNatives(t *testing.T) {
	e, out := newEngine(t, nil)
	res := eval(t, e, "extern sin(x)")
	assert.Equal(t, Result{Kind: ast.KindExtern, Name: "sin"}, res)
	assert.Equal(t, 0.0, eval(t, e, "sin(0)").Value)

	eval(t, e, "extern printd(x); extern putchard(c); printd(3); putchard(72) + putchard(105)")
	assert.Equal(t, "3.000000\nHi", out.String())

	eval(t, e, "extern pow(b e); extern sqrt(x)")
	assert.Equal(t, 5.0, eval(t, e, "sqrt(pow(3, 2) + pow(4, 2))").Value)
}

func TestNativeSignature(t *testing.T) {
	e, _ := newEngine(t, nil)
	err := evalErr(t, e, "extern sin(a b)")
	assert.ErrorIs(t, err, ErrNativeSignature)
	assert.Empty(t, e.Functions())

	err = evalErr(t, e, "sin(1, 2)")
	assert.ErrorIs(t, err, ir.ErrUnknownFunction)
}

func TestExternThenDefine(t *testing.T) {
	e, _ := newEngine(t, nil)
	eval(t, e, "extern foo(x); def bar(x) foo(x) * 2")
	err := evalErr(t, e, "bar(1)")
	assert.ErrorIs(t, err, vm.ErrUnboundFunction)

	eval(t, e, "def foo(x) x + 1")
	assert.Equal(t, 4.0, eval(t, e, "bar(1)").Value)
}

func TestRedefinition(t *testing.T) {
	e, _ := newEngine(t, nil)
	assert.Equal(t, 2.0, eval(t, e, "def f(x) x; f(2)").Value)

	res := eval(t, e, "f(2)")
	assert.True(t, res.Cached)

	// A new body is picked up by cached callers.
	eval(t, e, "def f(x) x * 10")
	res = eval(t, e, "f(2)")
	assert.Equal(t, 20.0, res.Value)
	assert.False(t, res.Cached, "redefinition purges expressions calling f")

	// A new arity is checked again.
	eval(t, e, "def f(x y) x * y")
	err := evalErr(t, e, "f(2)")
	assert.ErrorIs(t, err, ir.ErrArityMismatch)
	assert.Equal(t, 6.0, eval(t, e, "f(2, 3)").Value)
}

func TestCacheScope(t *testing.T) {
	e, _ := newEngine(t, nil)
	eval(t, e, "def f(x) x; def g(x) x")
	eval(t, e, "f(1)")
	eval(t, e, "g(1)")

	eval(t, e, "def g(x) x + 1")
	assert.True(t, eval(t, e, "f(1)").Cached, "unrelated expressions stay cached")
	assert.False(t, eval(t, e, "g(1)").Cached)
	assert.Equal(t, 1, e.Stats().CacheHits)
}

func TestCacheKeyPrecision(t *testing.T) {
	e, _ := newEngine(t, nil)
	a := eval(t, e, "1.0000001 * 1")
	b := eval(t, e, "1.0000002 * 1")
	assert.False(t, b.Cached)
	assert.NotEqual(t, a.Value, b.Value)
}

func TestCacheDisabled(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.CacheSize = 0 })
	eval(t, e, "1 + 1")
	res := eval(t, e, "1 + 1")
	assert.False(t, res.Cached)
	assert.Equal(t, 2.0, res.Value)
}

func TestFailedDefinitionKeepsPrevious(t *testing.T) {
	e, _ := newEngine(t, nil)
	eval(t, e, "def g(x) x")
	err := evalErr(t, e, "def g(x y) z")
	assert.ErrorIs(t, err, ir.ErrUnknownVariable)
	assert.Equal(t, 5.0, eval(t, e, "g(5)").Value)

	// Too many live values fails in code generation, after lowering.
	deep := "def g(x) " + strings.Repeat("1 + (", 300) + "x" + strings.Repeat(")", 300)
	e2, _ := newEngine(t, func(c *Config) { c.Optimize = false })
	eval(t, e2, "def g(x) x")
	evalErr(t, e2, deep)
	assert.Equal(t, 5.0, eval(t, e2, "g(5)").Value)
}

func TestRuntimeLimits(t *testing.T) {
	e, _ := newEngine(t, func(c *Config) { c.MaxCallDepth = 50 })
	eval(t, e, "def loop(x) loop(x + 1)")
	assert.ErrorIs(t, evalErr(t, e, "loop(0)"), vm.ErrCallDepth)
	_, ok := e.Peek()
	assert.False(t, ok, "failed expressions leave no value")

	e, _ = newEngine(t, func(c *Config) { c.GasLimit = 100 })
	eval(t, e, "def loop(x) loop(x + 1)")
	assert.ErrorIs(t, evalErr(t, e, "loop(0)"), vm.ErrOutOfGas)

	// The session survives runtime errors.
	assert.Equal(t, 3.0, eval(t, e, "1 + 2").Value)
}

func TestEvalSourcePolicies(t *testing.T) {
	const src = `
def ok(x) x;
(3 + 2;
ok(1);
nope(2);
ok(7)
`
	e, _ := newEngine(t, nil)
	results, errs := e.EvalString("batch.kld", src, true)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], parser.ErrExpectedCloseParen)
	assert.Len(t, results, 1)

	e, _ = newEngine(t, nil)
	results, errs = e.EvalString("repl.kld", src, false)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], parser.ErrExpectedCloseParen)
	assert.ErrorIs(t, errs[1], ir.ErrUnknownFunction)
	require.Len(t, results, 3)
	assert.Equal(t, 7.0, results[2].Value)

	v, ok := e.Get()
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestEvalSourceLexicalError(t *testing.T) {
	e, _ := newEngine(t, nil)
	results, errs := e.EvalString("lex.kld", "1 + 1; 1.2.3; 4", false)
	require.Len(t, errs, 1)
	assert.True(t, parser.IsLexical(errs[0]))
	assert.Len(t, results, 1, "a lexical error ends the source")
}

func TestStats(t *testing.T) {
	e, _ := newEngine(t, nil)
	e.EvalString("s.kld", "def f(x) x; extern sin(x); f(1); f(1); g(1)", false)
	assert.Equal(t, Stats{Definitions: 1, Externs: 1, Expressions: 2, CacheHits: 1, Errors: 1}, e.Stats())
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "2.500000", Result{Kind: ast.KindExpression, Value: 2.5}.String())
	assert.Equal(t, "defined f", Result{Kind: ast.KindDefinition, Name: "f"}.String())
	assert.Equal(t, "declared sin", Result{Kind: ast.KindExtern, Name: "sin"}.String())
}

func TestExprKey(t *testing.T) {
	key := func(src string) [32]byte {
		units, errs := parser.ParseString("k.kld", src)
		require.Empty(t, errs)
		return exprKey(units[0].(*ast.ExprUnit).Expr)
	}
	assert.Equal(t, key("f(1, x + 2)"), key("f( 1 ,x+2 ) # comment"))
	assert.NotEqual(t, key("a + b"), key("b + a"))
	assert.NotEqual(t, key("f(1)"), key("g(1)"))
	assert.NotEqual(t, key("f(ab)"), key("f(a, b)"))
	assert.NotEqual(t, key("0.1"), key("0.1000000001"))
}

// randomExpr builds a fully parenthesized expression over x and y. Leaves
// stay small enough that every intermediate is an exact double.
func randomExpr(r *rand.Rand, depth int) string {
	if depth == 0 || r.Intn(4) == 0 {
		switch r.Intn(3) {
		case 0:
			return "x"
		case 1:
			return "y"
		default:
			consts := []float64{0, 0.25, 0.5, 1, 2, 3, 7.5}
			return strconv.FormatFloat(consts[r.Intn(len(consts))], 'f', -1, 64)
		}
	}
	op := "+-*<"[r.Intn(4)]
	return fmt.Sprintf("(%s %c %s)", randomExpr(r, depth-1), op, randomExpr(r, depth-1))
}

// TestDifferentialAgainstJS checks compiled arithmetic against a
// JavaScript interpreter. Both evaluate IEEE doubles in the same order, so
// results must match exactly.
func TestDifferentialAgainstJS(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	js := goja.New()

	for _, optimize := range []bool{false, true} {
		e, _ := newEngine(t, func(c *Config) { c.Optimize = optimize })
		for i := 0; i < 200; i++ {
			body := randomExpr(r, 4)
			x, y := float64(r.Intn(7)), float64(r.Intn(5))/2

			eval(t, e, "def f(x y) "+body)
			got := eval(t, e, fmt.Sprintf("f(%g, %g)", x, y)).Value

			src := fmt.Sprintf("(function(x, y) { return Number(%s); })(%g, %g)", body, x, y)
			want, err := js.RunString(src)
			require.NoError(t, err, src)
			require.Equal(t, want.ToFloat(), got, "f(%g, %g) = %s, optimize=%v", x, y, body, optimize)
		}
	}
}
