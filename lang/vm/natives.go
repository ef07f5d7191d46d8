// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// Native describes a host function that an extern declaration can bind to.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

func unary(f func(float64) float64) NativeFunc {
	return func(args []float64) (float64, error) { return f(args[0]), nil }
}

func binop(f func(float64, float64) float64) NativeFunc {
	return func(args []float64) (float64, error) { return f(args[0], args[1]), nil }
}

// Natives returns the host library. putchard and printd write to w.
func Natives(w io.Writer) map[string]Native {
	lib := []Native{
		{"sin", 1, unary(math.Sin)},
		{"cos", 1, unary(math.Cos)},
		{"tan", 1, unary(math.Tan)},
		{"atan2", 2, binop(math.Atan2)},
		{"sqrt", 1, unary(math.Sqrt)},
		{"exp", 1, unary(math.Exp)},
		{"log", 1, unary(math.Log)},
		{"pow", 2, binop(math.Pow)},
		{"fabs", 1, unary(math.Abs)},
		{"floor", 1, unary(math.Floor)},
		{"ceil", 1, unary(math.Ceil)},
		{"putchard", 1, func(args []float64) (float64, error) {
			_, err := w.Write([]byte{byte(int(args[0]))})
			return 0, err
		}},
		{"printd", 1, func(args []float64) (float64, error) {
			_, err := fmt.Fprintf(w, "%f\n", args[0])
			return 0, err
		}},
	}
	m := make(map[string]Native, len(lib))
	for _, n := range lib {
		m[n.Name] = n
	}
	return m
}

// NativeNames returns the sorted names of the host library.
func NativeNames() []string {
	lib := Natives(io.Discard)
	names := make([]string, 0, len(lib))
	for name := range lib {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
