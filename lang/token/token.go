// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package token defines the lexical tokens of the Kaleidoscope language.
//
// A token is a tagged value: end of input, one of the two keywords, an
// identifier, a number literal, or a single special character. Operators
// and punctuation share the special kind; the parser tells them apart by
// probing the character.
package token

import (
	"fmt"
	"strconv"
)

// Kind is the tag of a token.
type Kind int

const (
	EOF Kind = iota
	Def
	Extern
	Identifier
	Number
	Special
)

var kindNames = [...]string{
	EOF:        "EOF",
	Def:        "def",
	Extern:     "extern",
	Identifier: "IDENT",
	Number:     "NUMBER",
	Special:    "SPECIAL",
}

// String returns the string form of a token kind.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// keywords maps keyword spellings to their kinds.
var keywords = map[string]Kind{
	"def":    Def,
	"extern": Extern,
}

// LookupIdent returns the keyword kind for ident, or Identifier.
func LookupIdent(ident string) Kind {
	if k, ok := keywords[ident]; ok {
		return k
	}
	return Identifier
}

// Position tracks source location.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File != "" {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token. Only the payload field matching Kind
// is meaningful: Text for identifiers, Value for numbers and Char for
// special characters.
type Token struct {
	Kind  Kind
	Text  string
	Value float64
	Char  byte
	Pos   Position
}

// EOFAt returns an end-of-input token.
func EOFAt(pos Position) Token {
	return Token{Kind: EOF, Pos: pos}
}

// Keyword returns a payload-less keyword token. It panics if kind is not
// a keyword.
func Keyword(kind Kind, pos Position) Token {
	if kind != Def && kind != Extern {
		panic(fmt.Sprintf("token: %s is not a keyword", kind))
	}
	return Token{Kind: kind, Pos: pos}
}

// Ident returns an identifier token carrying name.
func Ident(name string, pos Position) Token {
	return Token{Kind: Identifier, Text: name, Pos: pos}
}

// Num returns a number token carrying v.
func Num(v float64, pos Position) Token {
	return Token{Kind: Number, Value: v, Pos: pos}
}

// Op returns a special-character token carrying c.
func Op(c byte, pos Position) Token {
	return Token{Kind: Special, Char: c, Pos: pos}
}

// Valid reports whether the token is anything but end of input.
func (t Token) Valid() bool { return t.Kind != EOF }

// Is reports whether the token has the given kind.
func (t Token) Is(kind Kind) bool { return t.Kind == kind }

// IsIdent reports whether t is the identifier name.
func (t Token) IsIdent(name string) bool {
	return t.Kind == Identifier && t.Text == name
}

// IsNumber reports whether t is the number literal v.
func (t Token) IsNumber(v float64) bool {
	return t.Kind == Number && t.Value == v
}

// IsSpecial reports whether t is the special character c.
func (t Token) IsSpecial(c byte) bool {
	return t.Kind == Special && t.Char == c
}

// Literal returns the source-like spelling of the token payload.
func (t Token) Literal() string {
	switch t.Kind {
	case EOF:
		return ""
	case Def, Extern:
		return t.Kind.String()
	case Identifier:
		return t.Text
	case Number:
		return strconv.FormatFloat(t.Value, 'g', -1, 64)
	case Special:
		return string([]byte{t.Char})
	}
	return ""
}

func (t Token) String() string {
	switch t.Kind {
	case EOF, Def, Extern:
		return t.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Literal())
}
