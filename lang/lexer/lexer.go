// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package lexer implements a streaming, single-pass lexer for Kaleidoscope.
//
// Design principles:
//   - ASCII input read through a bufio.Reader, one byte of lookahead
//   - Exactly one token of pushback (Peek)
//   - '#' line comments are invisible to callers
//   - Operators and punctuation are all single-character special tokens
//   - Malformed number literals are fatal: the error is sticky
package lexer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kccani/kaleido/lang/token"
)

// ErrMalformedNumber is reported when a run of digits and dots is not a
// valid floating point literal (e.g. "1.2.3" or a lone ".").
var ErrMalformedNumber = errors.New("malformed number literal")

// ErrNumberRange is reported when a numeric literal does not fit in a
// float64.
var ErrNumberRange = errors.New("number literal out of range")

// Error is a lexical error at a source position.
type Error struct {
	Pos  token.Position
	Text string // offending source text, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s: %v %q", e.Pos, e.Err, e.Text)
	}
	return fmt.Sprintf("%s: %v", e.Pos, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Lexer holds the state for a single tokenization run. It is not safe for
// concurrent use.
type Lexer struct {
	filename string
	r        *bufio.Reader

	ch    byte // current character; 0 when past end
	atEOF bool
	line  int // 1-based line of ch
	col   int // 1-based column of ch

	buf      token.Token // lookahead filled by Peek
	buffered bool

	err error // first fatal error; returned by every later call
}

// New creates a Lexer reading from r. The filename is only used for
// positions.
func New(filename string, r io.Reader) *Lexer {
	l := &Lexer{
		filename: filename,
		r:        bufio.NewReader(r),
		line:     1,
	}
	l.advance() // prime l.ch with the first byte
	return l
}

// NewString creates a Lexer over an in-memory source.
func NewString(filename, src string) *Lexer {
	return New(filename, strings.NewReader(src))
}

// advance moves to the next byte of input, updating line/column tracking.
func (l *Lexer) advance() {
	if l.atEOF {
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	b, err := l.r.ReadByte()
	if err != nil {
		l.atEOF = true
		l.ch = 0
		if err != io.EOF && l.err == nil {
			l.err = &Error{Pos: l.pos(), Err: fmt.Errorf("read: %w", err)}
		}
		return
	}
	l.ch = b
}

func (l *Lexer) pos() token.Position {
	return token.Position{File: l.filename, Line: l.line, Column: l.col}
}

// Next consumes and returns the next token. A token buffered by Peek is
// returned without rescanning. At end of input Next keeps returning EOF
// tokens.
func (l *Lexer) Next() (token.Token, error) {
	if l.buffered {
		l.buffered = false
		return l.buf, nil
	}
	if l.err != nil {
		return token.Token{}, l.err
	}
	tok, err := l.scan()
	if err != nil {
		l.err = err
		return token.Token{}, err
	}
	return tok, nil
}

// Peek returns the next token without consuming it. Repeated calls return
// the same token until Next is called.
func (l *Lexer) Peek() (token.Token, error) {
	if !l.buffered {
		tok, err := l.Next()
		if err != nil {
			return token.Token{}, err
		}
		l.buf, l.buffered = tok, true
	}
	return l.buf, nil
}

// Tokenize returns all remaining tokens including the final EOF.
func (l *Lexer) Tokenize() ([]token.Token, error) {
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
		if !tok.Valid() {
			return toks, nil
		}
	}
}

// scan produces one token from the character stream.
func (l *Lexer) scan() (token.Token, error) {
	for {
		for !l.atEOF && l.ch == ' ' {
			l.advance()
		}
		if l.err != nil {
			return token.Token{}, l.err
		}
		pos := l.pos()
		if l.atEOF {
			return token.EOFAt(pos), nil
		}

		switch ch := l.ch; {
		case isAlpha(ch):
			lit := l.readWhile(isAlnum)
			if kind := token.LookupIdent(lit); kind != token.Identifier {
				return token.Keyword(kind, pos), nil
			}
			return token.Ident(lit, pos), nil

		case isDigit(ch) || ch == '.':
			lit := l.readWhile(isNumeric)
			v, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				if errors.Is(err, strconv.ErrRange) {
					return token.Token{}, &Error{Pos: pos, Text: lit, Err: ErrNumberRange}
				}
				return token.Token{}, &Error{Pos: pos, Text: lit, Err: ErrMalformedNumber}
			}
			return token.Num(v, pos), nil

		case ch == '#':
			l.skipComment()

		default:
			l.advance()
			// Raw whitespace never reaches the parser.
			if isWhitespace(ch) {
				continue
			}
			return token.Op(ch, pos), nil
		}
	}
}

// readWhile consumes the longest run of bytes satisfying pred, starting
// with the current one.
func (l *Lexer) readWhile(pred func(byte) bool) string {
	buf := make([]byte, 0, 16)
	for !l.atEOF && pred(l.ch) {
		buf = append(buf, l.ch)
		l.advance()
	}
	return string(buf)
}

// skipComment consumes a '#' comment up to, not including, the line break.
func (l *Lexer) skipComment() {
	for !l.atEOF && l.ch != '\n' && l.ch != '\r' {
		l.advance()
	}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlnum(ch byte) bool {
	return isAlpha(ch) || isDigit(ch)
}

func isNumeric(ch byte) bool {
	return isDigit(ch) || ch == '.'
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}
