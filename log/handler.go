// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package log

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Handler decides where and how a Record is written.
type Handler interface {
	Log(r *Record) error
}

type funcHandler func(r *Record) error

func (h funcHandler) Log(r *Record) error { return h(r) }

// FuncHandler adapts a function to the Handler interface.
func FuncHandler(fn func(r *Record) error) Handler {
	return funcHandler(fn)
}

// StreamHandler writes formatted records to w. Writes are serialized.
func StreamHandler(w io.Writer, fmtr Format) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) error {
		b := fmtr.Format(r)
		mu.Lock()
		defer mu.Unlock()
		_, err := w.Write(b)
		return err
	})
}

// LvlFilterHandler passes on records at maxLvl or more severe.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return FilterHandler(func(r *Record) bool {
		return r.Lvl <= maxLvl
	}, h)
}

// FilterHandler passes on records for which fn returns true.
func FilterHandler(fn func(r *Record) bool, h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		if fn(r) {
			return h.Log(r)
		}
		return nil
	})
}

// CallerFileHandler adds the caller's file:line under the "caller" key.
func CallerFileHandler(h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		r.Ctx = append(r.Ctx, "caller", fmt.Sprint(r.Call))
		return h.Log(r)
	})
}

// MultiHandler dispatches every record to all handlers and returns the
// first error.
func MultiHandler(hs ...Handler) Handler {
	return FuncHandler(func(r *Record) error {
		var first error
		for _, h := range hs {
			if err := h.Log(r); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// DiscardHandler drops everything.
func DiscardHandler() Handler {
	return FuncHandler(func(r *Record) error { return nil })
}

// swapHandler lets a logger's handler be replaced while it is in use.
type swapHandler struct {
	handler atomic.Value
}

type handlerBox struct{ h Handler }

func (h *swapHandler) Log(r *Record) error {
	return h.Get().Log(r)
}

func (h *swapHandler) Swap(newHandler Handler) {
	h.handler.Store(handlerBox{newHandler})
}

func (h *swapHandler) Get() Handler {
	box, ok := h.handler.Load().(handlerBox)
	if !ok || box.h == nil {
		return DiscardHandler()
	}
	return box.h
}
