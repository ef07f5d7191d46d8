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

	"github.com/edsrzf/mmap-go"
)

// source is a memory-mapped input file.
type source struct {
	name string
	f    *os.File
	data mmap.MMap
}

// openSource maps name read-only. Empty files are not mapped.
func openSource(name string) (*source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", name)
	}
	s := &source{name: name, f: f}
	if info.Size() > 0 {
		if s.data, err = mmap.Map(f, mmap.RDONLY, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("mapping %s: %w", name, err)
		}
	}
	return s, nil
}

// Reader returns a reader over the whole file.
func (s *source) Reader() io.Reader {
	return bytes.NewReader(s.data)
}

func (s *source) Close() error {
	var err error
	if s.data != nil {
		err = s.data.Unmap()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// withSource opens name, passes its reader to fn and closes it.
func withSource(name string, fn func(r io.Reader) error) error {
	src, err := openSource(name)
	if err != nil {
		return err
	}
	defer src.Close()
	return fn(src.Reader())
}
