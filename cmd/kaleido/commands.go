// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/codegen"
	"github.com/kccani/kaleido/lang/engine"
	"github.com/kccani/kaleido/lang/ir"
	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/parser"
	"github.com/kccani/kaleido/lang/vm"
	"github.com/kccani/kaleido/log"
)

var (
	dumpFlag = cli.BoolFlag{
		Name:  "dump",
		Usage: "Print the full node structure instead of the rendered form",
	}
	bytecodeFlag = cli.BoolFlag{
		Name:  "bytecode",
		Usage: "Also print the generated bytecode",
	}
	quietFlag = cli.BoolFlag{
		Name:  "quiet",
		Usage: "Do not print the value of top-level expressions",
	}
	jobsFlag = cli.IntFlag{
		Name:  "jobs",
		Usage: "Number of files checked in parallel",
		Value: runtime.NumCPU(),
	}

	tokensCommand = cli.Command{
		Action:    tokens,
		Name:      "tokens",
		Usage:     "Print the token stream of a source file",
		ArgsUsage: "FILE",
		Category:  "INSPECTION COMMANDS",
	}
	astCommand = cli.Command{
		Action:    dumpAST,
		Name:      "ast",
		Usage:     "Print the top-level units of a source file",
		ArgsUsage: "FILE",
		Flags:     []cli.Flag{dumpFlag},
		Category:  "INSPECTION COMMANDS",
	}
	irCommand = cli.Command{
		Action:    dumpIR,
		Name:      "ir",
		Usage:     "Print the lowered IR of a source file",
		ArgsUsage: "FILE",
		Flags:     []cli.Flag{noOptimizeFlag, bytecodeFlag},
		Category:  "INSPECTION COMMANDS",
	}
	runCommand = cli.Command{
		Action:    run,
		Name:      "run",
		Usage:     "Evaluate source files in one session",
		ArgsUsage: "FILE...",
		Flags:     append([]cli.Flag{quietFlag}, engineFlags...),
		Category:  "EVALUATION COMMANDS",
		Description: `
Files are evaluated in order against a single session, so later files may
call functions defined by earlier ones. Evaluation of a file stops at its
first error.`,
	}
	checkCommand = cli.Command{
		Action:    check,
		Name:      "check",
		Usage:     "Parse and resolve source files without running them",
		ArgsUsage: "FILE...",
		Flags:     []cli.Flag{jobsFlag},
		Category:  "EVALUATION COMMANDS",
		Description: `
Each file is checked independently and in parallel. Every error is
reported, not just the first.`,
	}
)

var errorColor = color.New(color.FgRed)

// errFailed is returned by commands that have already reported their
// errors.
var errFailed = errors.New("errors reported")

func fileArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", fmt.Errorf("usage: %s %s %s", clientIdentifier, ctx.Command.Name, ctx.Command.ArgsUsage)
	}
	return ctx.Args().First(), nil
}

func reportErrors(w io.Writer, errs []error) {
	for _, err := range errs {
		errorColor.Fprintln(w, err)
	}
}

// tokens is the tokens command.
func tokens(ctx *cli.Context) error {
	name, err := fileArg(ctx)
	if err != nil {
		return err
	}
	return withSource(name, func(r io.Reader) error {
		toks, err := lexer.New(name, r).Tokenize()

		table := tablewriter.NewWriter(ctx.App.Writer)
		table.SetHeader([]string{"Position", "Kind", "Literal"})
		table.SetAutoFormatHeaders(false)
		for _, tok := range toks {
			table.Append([]string{tok.Pos.String(), tok.Kind.String(), tok.Literal()})
		}
		table.Render()
		return err
	})
}

var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// dumpAST is the ast command.
func dumpAST(ctx *cli.Context) error {
	name, err := fileArg(ctx)
	if err != nil {
		return err
	}
	return withSource(name, func(r io.Reader) error {
		w := ctx.App.Writer
		units, errs := parser.Parse(name, r)
		for _, u := range units {
			if ctx.Bool(dumpFlag.Name) {
				spewConfig.Fdump(w, u)
			} else {
				fmt.Fprintf(w, "%-10s %s\n", u.Kind(), u)
			}
		}
		if len(errs) > 0 {
			reportErrors(w, errs)
			return errFailed
		}
		return nil
	})
}

// dumpIR is the ir command.
func dumpIR(ctx *cli.Context) error {
	name, err := fileArg(ctx)
	if err != nil {
		return err
	}
	return withSource(name, func(r io.Reader) error {
		var (
			w        = ctx.App.Writer
			lowerer  = ir.NewLowerer()
			gen      = codegen.New(vm.NewProgram())
			optimize = !ctx.Bool(noOptimizeFlag.Name)
		)
		units, errs := parser.Parse(name, r)
		for _, u := range units {
			prog, err := lowerer.Lower(u)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if optimize {
				ir.Optimize(prog)
			}
			fmt.Fprint(w, prog)
			if _, err := gen.Generate(prog); err != nil {
				errs = append(errs, err)
			}
		}
		if ctx.Bool(bytecodeFlag.Name) {
			fmt.Fprintln(w)
			fmt.Fprint(w, gen.Program())
		}
		if len(errs) > 0 {
			reportErrors(w, errs)
			return errFailed
		}
		return nil
	})
}

// run is the run command.
func run(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("usage: %s run %s", clientIdentifier, ctx.Command.ArgsUsage)
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	w := ctx.App.Writer
	cfg.Engine.Output = w
	e, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}

	failed := false
	for _, name := range ctx.Args() {
		start := time.Now()
		err := withSource(name, func(r io.Reader) error {
			results, errs := e.EvalSource(name, r, true)
			if !ctx.Bool(quietFlag.Name) {
				for _, res := range results {
					if res.Kind == ast.KindExpression {
						fmt.Fprintf(w, "%f\n", res.Value)
					}
				}
			}
			if len(errs) > 0 {
				reportErrors(w, errs)
				return errFailed
			}
			return nil
		})
		if err != nil {
			if err != errFailed {
				reportErrors(w, []error{err})
			}
			failed = true
		}
		log.Info("Evaluated file", "file", name, "elapsed", time.Since(start), "ok", err == nil)
	}
	stats := e.Stats()
	log.Debug("Session finished", "definitions", stats.Definitions, "expressions", stats.Expressions,
		"cachehits", stats.CacheHits, "errors", stats.Errors)
	if failed {
		return errFailed
	}
	return nil
}

// checkResult is the outcome of checking one file.
type checkResult struct {
	units int
	errs  []error
}

// checkFile parses name and resolves every unit against a fresh symbol
// table, reporting all errors.
func checkFile(name string) checkResult {
	var res checkResult
	err := withSource(name, func(r io.Reader) error {
		units, errs := parser.Parse(name, r)
		lowerer := ir.NewLowerer()
		for _, u := range units {
			if _, err := lowerer.Lower(u); err != nil {
				errs = append(errs, err)
			}
		}
		res.units, res.errs = len(units), errs
		return nil
	})
	if err != nil {
		res.errs = []error{err}
	}
	return res
}

// check is the check command.
func check(ctx *cli.Context) error {
	names := []string(ctx.Args())
	if len(names) == 0 {
		return fmt.Errorf("usage: %s check %s", clientIdentifier, ctx.Command.ArgsUsage)
	}
	results := make([]checkResult, len(names))

	var g errgroup.Group
	g.SetLimit(max(ctx.Int(jobsFlag.Name), 1))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = checkFile(name)
			return nil
		})
	}
	g.Wait()

	w := ctx.App.Writer
	failed := 0
	for i, name := range names {
		res := results[i]
		if len(res.errs) == 0 {
			fmt.Fprintf(w, "%s: ok, %d units\n", name, res.units)
			continue
		}
		failed++
		fmt.Fprintf(w, "%s: %d errors\n", name, len(res.errs))
		reportErrors(w, res.errs)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(names))
	}
	return nil
}
