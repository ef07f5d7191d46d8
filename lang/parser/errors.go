// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package parser

import (
	"errors"
	"fmt"

	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/token"
)

// Structural errors. Every *Error wraps exactly one of these.
var (
	ErrExpectedPrimary      = errors.New("expected a primary expression")
	ErrExpectedCloseParen   = errors.New("expected ')'")
	ErrExpectedArgSeparator = errors.New("expected ')' or ',' in argument list")
	ErrExpectedFuncName     = errors.New("expected function name in prototype")
	ErrExpectedProtoOpen    = errors.New("expected '(' in prototype")
	ErrExpectedProtoClose   = errors.New("expected ')' in prototype")
)

// Error is a structural parse error: the token Got appeared where the
// construct described by Err was required.
type Error struct {
	Pos token.Position
	Got token.Token
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v, got %s", e.Pos, e.Err, e.Got)
}

func (e *Error) Unwrap() error { return e.Err }

// unexpected builds the error for tok appearing where want was required.
func unexpected(tok token.Token, want error) error {
	return &Error{Pos: tok.Pos, Got: tok, Err: want}
}

// IsLexical reports whether err came from the lexer. Lexical errors end
// the token stream, so no further units can be parsed after one.
func IsLexical(err error) bool {
	var lexErr *lexer.Error
	return errors.As(err, &lexErr)
}
