// Copyright 2024 The Kaleido Authors
// This file is part of Kaleido.
//
// Kaleido is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/kccani/kaleido/lang/engine"
	"github.com/kccani/kaleido/log"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   "[FILE]",
		Flags:       engineFlags,
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values.`,
	}

	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}

	noOptimizeFlag = cli.BoolFlag{
		Name:  "noopt",
		Usage: "Disable the IR optimization passes",
	}
	noVerifyFlag = cli.BoolFlag{
		Name:  "noverify",
		Usage: "Skip bytecode verification",
	}
	gasFlag = cli.Uint64Flag{
		Name:  "gas",
		Usage: "Gas available to each top-level expression",
		Value: engine.DefaultConfig.GasLimit,
	}
	depthFlag = cli.IntFlag{
		Name:  "depth",
		Usage: "Maximum call depth",
		Value: engine.DefaultConfig.MaxCallDepth,
	}
	cacheFlag = cli.IntFlag{
		Name:  "cache",
		Usage: "Number of compiled expressions to cache (0 disables)",
		Value: engine.DefaultConfig.CacheSize,
	}

	engineFlags = []cli.Flag{
		noOptimizeFlag,
		noVerifyFlag,
		gasFlag,
		depthFlag,
		cacheFlag,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type serverConfig struct {
	Addr         string
	CORSOrigins  []string `toml:",omitempty"`
	RateLimit    float64  // requests per second over all clients
	RateBurst    int
	MaxBodyBytes int64
}

type replConfig struct {
	Prompt      string
	HistoryFile string `toml:",omitempty"`
}

type kaleidoConfig struct {
	Engine engine.Config
	Server serverConfig
	Repl   replConfig
}

var defaultServerConfig = serverConfig{
	Addr:         "localhost:8547",
	CORSOrigins:  []string{"*"},
	RateLimit:    20,
	RateBurst:    40,
	MaxBodyBytes: 1 << 20,
}

func defaultReplConfig() replConfig {
	cfg := replConfig{Prompt: "ready> "}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, ".kaleido_history")
	}
	return cfg
}

func loadConfig(file string, cfg *kaleidoConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the configuration file, if any, and applies flags on
// top of it.
func makeConfig(ctx *cli.Context) (kaleidoConfig, error) {
	cfg := kaleidoConfig{
		Engine: engine.DefaultConfig,
		Server: defaultServerConfig,
		Repl:   defaultReplConfig(),
	}
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
		log.Debug("Loaded configuration", "file", file)
	}
	applyEngineFlags(ctx, &cfg.Engine)
	return cfg, nil
}

func applyEngineFlags(ctx *cli.Context, cfg *engine.Config) {
	if ctx.Bool(noOptimizeFlag.Name) {
		cfg.Optimize = false
	}
	if ctx.Bool(noVerifyFlag.Name) {
		cfg.Verify = false
	}
	if ctx.IsSet(gasFlag.Name) {
		cfg.GasLimit = ctx.Uint64(gasFlag.Name)
	}
	if ctx.IsSet(depthFlag.Name) {
		cfg.MaxCallDepth = ctx.Int(depthFlag.Name)
	}
	if ctx.IsSet(cacheFlag.Name) {
		cfg.CacheSize = ctx.Int(cacheFlag.Name)
	}
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}
