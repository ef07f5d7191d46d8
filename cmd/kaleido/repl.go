// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/engine"
	"github.com/kccani/kaleido/lang/vm"
	"github.com/kccani/kaleido/log"
)

var replCommand = cli.Command{
	Action:   repl,
	Name:     "repl",
	Usage:    "Start an interactive session",
	Flags:    engineFlags,
	Category: "EVALUATION COMMANDS",
	Description: `
Each line is parsed and evaluated on its own. Errors are reported and the
session continues. Lines starting with '.' are session commands; type .help
for the list.`,
}

var (
	valueColor = color.New(color.FgGreen)
	noteColor  = color.New(color.FgHiBlack)
)

// replSession evaluates lines against one engine.
type replSession struct {
	e *engine.Engine
	w io.Writer
}

// handle evaluates one line of input. It returns false when the session
// should end.
func (s *replSession) handle(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return true
	}
	if strings.HasPrefix(input, ".") {
		return s.command(input)
	}
	results, errs := s.e.EvalString("<stdin>", input, false)
	for _, res := range results {
		switch res.Kind {
		case ast.KindExpression:
			valueColor.Fprintf(s.w, "Evaluated to %f\n", res.Value)
		case ast.KindDefinition:
			noteColor.Fprintf(s.w, "Read function definition: %s\n", res.Name)
		case ast.KindExtern:
			noteColor.Fprintf(s.w, "Read extern: %s\n", res.Name)
		}
	}
	reportErrors(s.w, errs)
	return true
}

func (s *replSession) command(input string) bool {
	switch input {
	case ".quit", ".exit":
		return false
	case ".functions":
		for _, name := range s.e.Functions() {
			fmt.Fprintln(s.w, name)
		}
	case ".natives":
		fmt.Fprintln(s.w, strings.Join(vm.NativeNames(), " "))
	case ".stats":
		st := s.e.Stats()
		fmt.Fprintf(s.w, "definitions=%d externs=%d expressions=%d cachehits=%d errors=%d\n",
			st.Definitions, st.Externs, st.Expressions, st.CacheHits, st.Errors)
	case ".help":
		fmt.Fprintln(s.w, ".functions  list declared functions")
		fmt.Fprintln(s.w, ".natives    list host functions available to extern")
		fmt.Fprintln(s.w, ".stats      show session counters")
		fmt.Fprintln(s.w, ".quit       leave the session")
	default:
		errorColor.Fprintf(s.w, "unknown command %s, try .help\n", input)
	}
	return true
}

// repl is the repl command.
func repl(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Engine.Output = ctx.App.Writer
	e, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}
	session := &replSession{e: e, w: ctx.App.Writer}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, name := range append([]string{"def", "extern"}, e.Functions()...) {
			if strings.HasPrefix(name, prefix) {
				out = append(out, name)
			}
		}
		return out
	})

	if file := cfg.Repl.HistoryFile; file != "" {
		if f, err := os.Open(file); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(file)
			if err != nil {
				log.Warn("Failed to save history", "file", file, "err", err)
				return
			}
			defer f.Close()
			line.WriteHistory(f)
		}()
	}

	fmt.Fprintf(ctx.App.Writer, "Kaleidoscope %s, type .help for commands\n", version)
	for {
		input, err := line.Prompt(cfg.Repl.Prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Fprintln(ctx.App.Writer)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if !session.handle(input) {
			return nil
		}
	}
}
