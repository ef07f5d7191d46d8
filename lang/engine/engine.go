// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package engine evaluates top-level units against a persistent session.
//
// Definitions and externs extend the session's function table; bare
// expressions are compiled into an anonymous zero-arity function and run
// immediately. The value of the last expression is kept until consumed.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/codegen"
	"github.com/kccani/kaleido/lang/ir"
	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/parser"
	"github.com/kccani/kaleido/lang/vm"
	"github.com/kccani/kaleido/log"
)

var (
	// ErrNativeSignature is returned when an extern names a host function
	// with a different number of parameters.
	ErrNativeSignature = errors.New("engine: extern does not match host function")

	// ErrVerify is returned when generated bytecode fails verification.
	ErrVerify = errors.New("engine: bytecode verification failed")
)

// Config tunes an Engine.
type Config struct {
	Optimize     bool      // run the IR passes before code generation
	Verify       bool      // verify bytecode after every definition
	GasLimit     uint64    // gas available to each top-level expression
	MaxCallDepth int       // nested call limit
	CacheSize    int       // compiled expressions kept; 0 disables the cache
	Output       io.Writer `toml:"-"` // destination of putchard and printd
}

// DefaultConfig is used for fields left zero by callers of New.
var DefaultConfig = Config{
	Optimize:     true,
	Verify:       true,
	GasLimit:     50_000_000,
	MaxCallDepth: vm.DefaultMaxCallDepth,
	CacheSize:    256,
}

// Result describes one evaluated unit.
type Result struct {
	Kind   ast.UnitKind
	Name   string  // defined or declared function; AnonExprName for expressions
	Value  float64 // expressions only
	Gas    uint64  // expressions only
	Cached bool    // the expression's code came from the cache
}

func (r Result) String() string {
	switch r.Kind {
	case ast.KindExpression:
		return fmt.Sprintf("%f", r.Value)
	case ast.KindDefinition:
		return "defined " + r.Name
	default:
		return "declared " + r.Name
	}
}

// Stats counts the work done by an Engine.
type Stats struct {
	Definitions int
	Externs     int
	Expressions int
	CacheHits   int
	Errors      int
}

// Engine is one evaluation session. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	lowerer *ir.Lowerer
	gen     *codegen.Generator
	machine *vm.VM
	natives map[string]vm.Native
	cache   *lru.Cache // exprKey -> *compiledExpr

	last    float64
	hasLast bool
	stats   Stats
	log     log.Logger
}

// compiledExpr is a cached anonymous function body.
type compiledExpr struct {
	offset  uint32
	locals  int
	callees []string
}

// New creates an engine. Zero fields of cfg take their DefaultConfig value,
// except Optimize, Verify and CacheSize which are used as given.
func New(cfg Config) (*Engine, error) {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = DefaultConfig.GasLimit
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultConfig.MaxCallDepth
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	prog := vm.NewProgram()
	e := &Engine{
		cfg:     cfg,
		lowerer: ir.NewLowerer(),
		gen:     codegen.New(prog),
		machine: vm.New(prog, cfg.GasLimit),
		natives: vm.Natives(cfg.Output),
		log:     log.New("module", "engine"),
	}
	e.machine.SetMaxCallDepth(cfg.MaxCallDepth)
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Program returns the session's bytecode.
func (e *Engine) Program() *vm.Program { return e.gen.Program() }

// Functions returns the sorted names of every declared or defined function.
func (e *Engine) Functions() []string { return e.lowerer.Names() }

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats { return e.stats }

// Get returns and consumes the value of the last expression.
func (e *Engine) Get() (float64, bool) {
	v, ok := e.last, e.hasLast
	e.last, e.hasLast = 0, false
	return v, ok
}

// Peek returns the value of the last expression without consuming it.
func (e *Engine) Peek() (float64, bool) {
	return e.last, e.hasLast
}

// Eval evaluates one unit. A failed unit leaves the function table as it
// was. Output already written by putchard or printd is not undone.
func (e *Engine) Eval(u ast.Unit) (Result, error) {
	start := time.Now()
	out := ast.VisitUnit[evalResult](evaluator{e}, u)
	if out.err != nil {
		e.stats.Errors++
		e.log.Debug("Unit failed", "kind", u.Kind(), "pos", u.Pos(), "err", out.err)
		return Result{}, out.err
	}
	e.log.Debug("Unit evaluated", "kind", u.Kind(), "name", out.Name, "elapsed", time.Since(start))
	return out.Result, nil
}

type evalResult struct {
	Result
	err error
}

func failed(err error) evalResult { return evalResult{err: err} }

// evaluator dispatches units for Eval.
type evaluator struct{ e *Engine }

func (ev evaluator) VisitPrototype(p *ast.Prototype) evalResult {
	e := ev.e
	native, isNative := e.natives[p.Name]
	if isNative && native.Arity != p.Arity() {
		return failed(fmt.Errorf("%w: %s takes %d parameters, declared with %d",
			ErrNativeSignature, p.Name, native.Arity, p.Arity()))
	}
	prev, had := e.lowerer.Lookup(p.Name)
	if _, err := e.lowerer.Lower(p); err != nil {
		return failed(err)
	}
	prog := e.gen.Program()
	var err error
	if isNative {
		_, err = prog.Bind(p.Name, native.Arity, native.Fn)
	} else {
		_, err = prog.Slot(p.Name)
	}
	if err != nil {
		e.restore(p.Name, prev, had)
		return failed(err)
	}
	e.invalidate(p.Name)
	e.stats.Externs++
	return evalResult{Result: Result{Kind: ast.KindExtern, Name: p.Name}}
}

func (ev evaluator) VisitFunction(f *ast.Function) evalResult {
	e := ev.e
	name := f.Proto.Name
	prev, had := e.lowerer.Lookup(name)
	if _, err := e.compile(f); err != nil {
		e.restore(name, prev, had)
		return failed(err)
	}
	e.invalidate(name)
	e.stats.Definitions++
	return evalResult{Result: Result{Kind: ast.KindDefinition, Name: name}}
}

func (ev evaluator) VisitExpression(u *ast.ExprUnit) evalResult {
	e := ev.e
	res := Result{Kind: ast.KindExpression, Name: ir.AnonExprName}

	key := exprKey(u.Expr)
	if e.loadCached(key) {
		res.Cached = true
		e.stats.CacheHits++
	} else {
		slot, err := e.compile(u)
		if err != nil {
			return failed(err)
		}
		e.store(key, slot, ast.Callees(u.Expr))
	}

	v, err := e.machine.Call(ir.AnonExprName)
	res.Gas = e.machine.GasUsed()
	if err != nil {
		return failed(err)
	}
	e.last, e.hasLast = v, true
	e.stats.Expressions++
	res.Value = v
	return evalResult{Result: res}
}

// restore puts back the signature a failed unit replaced.
func (e *Engine) restore(name string, prev *ast.Prototype, had bool) {
	if had {
		e.lowerer.Declare(prev)
	} else {
		e.lowerer.Forget(name)
	}
}

// compile lowers, optimizes and generates u, returning the slot of the
// function it defines.
func (e *Engine) compile(u ast.Unit) (int, error) {
	prog, err := e.lowerer.Lower(u)
	if err != nil {
		return 0, err
	}
	if e.cfg.Optimize {
		ir.Optimize(prog)
	}
	slots, err := e.gen.Generate(prog)
	if err != nil {
		return 0, err
	}
	if e.cfg.Verify {
		if errs := codegen.Verify(e.gen.Program()); len(errs) > 0 {
			return 0, fmt.Errorf("%w: %v", ErrVerify, &errs[0])
		}
	}
	return slots[len(slots)-1], nil
}

// ---------------------------------------------------------------------------
// Expression cache
// ---------------------------------------------------------------------------

// loadCached rebinds the anonymous function to a cached body.
func (e *Engine) loadCached(key [32]byte) bool {
	if e.cache == nil {
		return false
	}
	v, ok := e.cache.Get(key)
	if !ok {
		return false
	}
	c := v.(*compiledExpr)
	_, err := e.gen.Program().Define(ir.AnonExprName, c.offset, 0, c.locals)
	return err == nil
}

func (e *Engine) store(key [32]byte, slot int, callees []string) {
	if e.cache == nil {
		return
	}
	fn := e.gen.Program().Functions[slot]
	e.cache.Add(key, &compiledExpr{offset: fn.Offset, locals: fn.Locals, callees: callees})
}

// invalidate drops cached expressions that call name, so they are checked
// again against its new signature.
func (e *Engine) invalidate(name string) {
	if e.cache == nil {
		return
	}
	purged := 0
	for _, key := range e.cache.Keys() {
		v, ok := e.cache.Peek(key)
		if !ok {
			continue
		}
		for _, callee := range v.(*compiledExpr).callees {
			if callee == name {
				e.cache.Remove(key)
				purged++
				break
			}
		}
	}
	if purged > 0 {
		e.log.Trace("Purged cached expressions", "callee", name, "count", purged)
	}
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// EvalSource parses and evaluates every unit read from r. With abort set,
// evaluation stops at the first parse or evaluation error. Otherwise each
// error is collected and evaluation resumes with the next unit; a lexical
// error always ends the source.
func (e *Engine) EvalSource(filename string, r io.Reader, abort bool) ([]Result, []error) {
	var (
		p       = parser.New(lexer.New(filename, r))
		results []Result
		errs    []error
	)
	for {
		u, err := p.Next()
		if err == io.EOF {
			return results, errs
		}
		if err == nil {
			var res Result
			if res, err = e.Eval(u); err == nil {
				results = append(results, res)
				continue
			}
		}
		errs = append(errs, err)
		if abort || parser.IsLexical(err) {
			return results, errs
		}
	}
}

// EvalString is EvalSource over a string.
func (e *Engine) EvalString(filename, src string, abort bool) ([]Result, []error) {
	return e.EvalSource(filename, strings.NewReader(src), abort)
}
