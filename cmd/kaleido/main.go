// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// kaleido is the command line front end for the Kaleidoscope toolchain.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/log"
)

const (
	clientIdentifier = "kaleido"
	version          = "0.1.0"
)

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: int(log.LvlWarn),
	}
	noColorFlag = cli.BoolFlag{
		Name:  "nocolor",
		Usage: "Disable coloured terminal output",
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Usage = "the Kaleidoscope language toolchain"
	app.Version = version
	app.Flags = []cli.Flag{
		configFileFlag,
		verbosityFlag,
		noColorFlag,
	}
	app.Commands = []cli.Command{
		tokensCommand,
		astCommand,
		irCommand,
		runCommand,
		checkCommand,
		watchCommand,
		replCommand,
		serveCommand,
		dumpConfigCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		return setupLogging(ctx, os.Stderr)
	}
	return app
}

// setupLogging routes the root logger to w at the requested verbosity.
// Colour is used only on terminals that support it.
func setupLogging(ctx *cli.Context, w *os.File) error {
	lvl := log.Lvl(ctx.GlobalInt(verbosityFlag.Name))
	if lvl < log.LvlCrit || lvl > log.LvlTrace {
		return fmt.Errorf("invalid verbosity %d", lvl)
	}
	usecolor := !ctx.GlobalBool(noColorFlag.Name) &&
		(isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())) &&
		os.Getenv("TERM") != "dumb"
	if ctx.GlobalBool(noColorFlag.Name) {
		color.NoColor = true
	}
	output := io.Writer(w)
	if usecolor {
		output = colorable.NewColorable(w)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(output, log.TerminalFormat(usecolor))))
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		if err != errFailed {
			fmt.Fprintln(os.Stderr, color.RedString("Fatal: %v", err))
		}
		os.Exit(1)
	}
}
