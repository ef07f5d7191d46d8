// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/rjeczalik/notify"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/engine"
	"github.com/kccani/kaleido/log"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 150 * time.Millisecond

var watchCommand = cli.Command{
	Action:    watch,
	Name:      "watch",
	Usage:     "Re-evaluate a source file whenever it changes",
	ArgsUsage: "FILE",
	Flags:     engineFlags,
	Category:  "EVALUATION COMMANDS",
	Description: `
Every change starts a fresh session, so the output always reflects the file
as saved. Interrupt to stop.`,
}

var headerColor = color.New(color.FgCyan, color.Bold)

// evalFile evaluates name in a fresh session and writes expression values
// and errors to w. It reports whether the file evaluated cleanly.
func evalFile(w io.Writer, cfg engine.Config, name string) bool {
	cfg.Output = w
	e, err := engine.New(cfg)
	if err != nil {
		reportErrors(w, []error{err})
		return false
	}
	// The file is copied rather than mapped: an editor may truncate it
	// while it is being evaluated.
	data, err := os.ReadFile(name)
	if err != nil {
		reportErrors(w, []error{err})
		return false
	}
	results, errs := e.EvalSource(name, bytes.NewReader(data), true)
	for _, res := range results {
		if res.Kind == ast.KindExpression {
			fmt.Fprintf(w, "%f\n", res.Value)
		}
	}
	reportErrors(w, errs)
	return len(errs) == 0
}

// watch is the watch command.
func watch(ctx *cli.Context) error {
	name, err := fileArg(ctx)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(name)
	if err != nil {
		return err
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	// Editors often replace the file rather than write it, so the
	// directory is watched instead of the file.
	events := make(chan notify.EventInfo, 16)
	if err := notify.Watch(filepath.Dir(path), events, notify.Write, notify.Create, notify.Rename); err != nil {
		return err
	}
	defer notify.Stop(events)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	w := ctx.App.Writer
	runOnce := func() {
		headerColor.Fprintf(w, "== %s %s\n", name, time.Now().Format("15:04:05"))
		ok := evalFile(w, cfg.Engine, name)
		log.Debug("Re-evaluated watched file", "file", name, "ok", ok)
	}
	runOnce()

	var (
		timer   = time.NewTimer(0)
		pending = false
	)
	<-timer.C
	for {
		select {
		case ev := <-events:
			if ev.Path() != path {
				continue
			}
			log.Trace("Watched file changed", "event", ev.Event())
			if !pending {
				timer.Reset(watchDebounce)
				pending = true
			}
		case <-timer.C:
			pending = false
			runOnce()
		case <-interrupt:
			return nil
		}
	}
}
