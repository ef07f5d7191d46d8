// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package parser implements a recursive-descent parser for Kaleidoscope,
// producing one top-level unit per call.
//
// Design overview:
//
//   - Statements are parsed with straightforward recursive descent over the
//     lexer's Next/Peek contract; the parser keeps no lookahead of its own.
//   - Binary expressions use precedence climbing over a fixed table.
//   - Every procedure returns an explicit error. A structural error abandons
//     the current unit; Next then resynchronises at the following ';' or
//     keyword so later units can still be parsed.
//   - Lexical errors are fatal for the whole stream.
package parser

import (
	"io"
	"strings"

	"github.com/kccani/kaleido/lang/ast"
	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/token"
)

// ---------------------------------------------------------------------------
// Precedence
// ---------------------------------------------------------------------------

// binopPrecedence is the binding power of each binary operator; higher
// binds tighter. '-' deliberately binds tighter than '+'.
var binopPrecedence = map[byte]int{
	'<': 100,
	'+': 200,
	'-': 300,
	'*': 400,
}

// Precedence returns the binding power of op, or -1 if op is not a binary
// operator.
func Precedence(op byte) int {
	if prec, ok := binopPrecedence[op]; ok {
		return prec
	}
	return -1
}

func tokPrecedence(tok token.Token) int {
	if !tok.Is(token.Special) {
		return -1
	}
	return Precedence(tok.Char)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser produces top-level units from a lexer it exclusively borrows. It
// is not safe for concurrent use; parse independent inputs with
// independent parsers.
type Parser struct {
	lex *lexer.Lexer
}

// New returns a parser reading tokens from l.
func New(l *lexer.Lexer) *Parser {
	return &Parser{lex: l}
}

// NewString returns a parser over an in-memory source.
func NewString(filename, src string) *Parser {
	return New(lexer.NewString(filename, src))
}

// Parse parses every unit in r. See ParseAll.
func Parse(filename string, r io.Reader) ([]ast.Unit, []error) {
	return New(lexer.New(filename, r)).ParseAll()
}

// ParseString parses every unit in src. See ParseAll.
func ParseString(filename, src string) ([]ast.Unit, []error) {
	return Parse(filename, strings.NewReader(src))
}

// Next parses one top-level unit. Leading semicolons are skipped. At end of
// input it returns io.EOF.
//
// On a structural error Next returns the error and discards input through
// the next ';', or up to the next def/extern keyword, so that a following
// call continues with a fresh unit. On a lexical error every later call
// returns the same error.
func (p *Parser) Next() (ast.Unit, error) {
	for {
		tok, err := p.lex.Peek()
		if err != nil {
			return nil, err
		}
		var unit ast.Unit
		switch {
		case !tok.Valid():
			return nil, io.EOF
		case tok.IsSpecial(';'):
			p.advance()
			continue
		case tok.Is(token.Def):
			unit, err = p.parseDefinition()
		case tok.Is(token.Extern):
			unit, err = p.parseExtern()
		default:
			unit, err = p.parseTopLevelExpr()
		}
		if err != nil {
			if !IsLexical(err) {
				p.synchronize()
			}
			return nil, err
		}
		return unit, nil
	}
}

// ParseAll parses units until end of input. Units that fail to parse are
// left out and their errors collected in order; parsing stops at the first
// lexical error.
func (p *Parser) ParseAll() ([]ast.Unit, []error) {
	var (
		units []ast.Unit
		errs  []error
	)
	for {
		unit, err := p.Next()
		if err == io.EOF {
			return units, errs
		}
		if err != nil {
			errs = append(errs, err)
			if IsLexical(err) {
				return units, errs
			}
			continue
		}
		units = append(units, unit)
	}
}

// ParseExpr parses a single expression from l.
func ParseExpr(l *lexer.Lexer) (ast.Expr, error) {
	return New(l).parseExpression()
}

// ParsePrototype parses a single prototype, without a leading keyword,
// from l.
func ParsePrototype(l *lexer.Lexer) (*ast.Prototype, error) {
	return New(l).parsePrototype()
}

// ---------------------------------------------------------------------------
// Token navigation helpers
// ---------------------------------------------------------------------------

// advance consumes a token that has already been peeked successfully.
func (p *Parser) advance() {
	p.lex.Next() //nolint:errcheck
}

// synchronize skips the remainder of a failed unit.
func (p *Parser) synchronize() {
	for {
		tok, err := p.lex.Peek()
		if err != nil || !tok.Valid() || tok.Is(token.Def) || tok.Is(token.Extern) {
			return
		}
		p.advance()
		if tok.IsSpecial(';') {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Top-level units
// ---------------------------------------------------------------------------

// parseDefinition parses "def" prototype expression.
func (p *Parser) parseDefinition() (*ast.Function, error) {
	def, err := p.lex.Next()
	if err != nil {
		return nil, err
	}
	proto, err := p.parsePrototype()
	if err != nil {
		return nil, err
	}
	body, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.Function{Token: def, Proto: proto, Body: body}, nil
}

// parseExtern parses "extern" prototype.
func (p *Parser) parseExtern() (*ast.Prototype, error) {
	if _, err := p.lex.Next(); err != nil {
		return nil, err
	}
	return p.parsePrototype()
}

func (p *Parser) parseTopLevelExpr() (*ast.ExprUnit, error) {
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.ExprUnit{Expr: e}, nil
}

// parsePrototype parses name "(" { name } ")". Parameters are separated by
// whitespace only.
func (p *Parser) parsePrototype() (*ast.Prototype, error) {
	name, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if !name.Is(token.Identifier) {
		return nil, unexpected(name, ErrExpectedFuncName)
	}
	p.advance()

	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if !tok.IsSpecial('(') {
		return nil, unexpected(tok, ErrExpectedProtoOpen)
	}
	p.advance()

	var params []string
	for {
		tok, err = p.lex.Peek()
		if err != nil {
			return nil, err
		}
		if !tok.Is(token.Identifier) {
			break
		}
		params = append(params, tok.Text)
		p.advance()
	}
	if !tok.IsSpecial(')') {
		return nil, unexpected(tok, ErrExpectedProtoClose)
	}
	p.advance()

	return &ast.Prototype{Token: name, Name: name.Text, Params: params}, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpression parses primary { binop primary }.
func (p *Parser) parseExpression() (ast.Expr, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parseBinOpRHS(0, lhs)
}

// parseBinOpRHS folds operators binding at least as tightly as minPrec onto
// lhs. A following operator that binds tighter than the current one is
// absorbed into the right operand first.
func (p *Parser) parseBinOpRHS(minPrec int, lhs ast.Expr) (ast.Expr, error) {
	for {
		op, err := p.lex.Peek()
		if err != nil {
			return nil, err
		}
		prec := tokPrecedence(op)
		if prec < minPrec {
			return lhs, nil
		}
		p.advance()

		rhs, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		next, err := p.lex.Peek()
		if err != nil {
			return nil, err
		}
		if tokPrecedence(next) > prec {
			if rhs, err = p.parseBinOpRHS(prec+1, rhs); err != nil {
				return nil, err
			}
		}
		lhs = &ast.BinaryExpr{Token: op, Op: op.Char, LHS: lhs, RHS: rhs}
	}
}

// parsePrimary dispatches on the next token.
func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	switch {
	case tok.Is(token.Identifier):
		return p.parseIdentifierExpr()
	case tok.Is(token.Number):
		p.advance()
		return &ast.NumberExpr{Token: tok, Value: tok.Value}, nil
	case tok.IsSpecial('('):
		return p.parseParenExpr()
	}
	return nil, unexpected(tok, ErrExpectedPrimary)
}

// parseParenExpr parses "(" expression ")".
func (p *Parser) parseParenExpr() (ast.Expr, error) {
	p.advance() // '('
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if !tok.IsSpecial(')') {
		return nil, unexpected(tok, ErrExpectedCloseParen)
	}
	p.advance()
	return e, nil
}

// parseIdentifierExpr parses a variable reference or a call
// name "(" [ expression { "," expression } ] ")".
func (p *Parser) parseIdentifierExpr() (ast.Expr, error) {
	name, err := p.lex.Next()
	if err != nil {
		return nil, err
	}
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if !tok.IsSpecial('(') {
		return &ast.VariableExpr{Token: name, Name: name.Text}, nil
	}
	p.advance()

	call := &ast.CallExpr{Token: name, Callee: name.Text}
	if tok, err = p.lex.Peek(); err != nil {
		return nil, err
	}
	if tok.IsSpecial(')') {
		p.advance()
		return call, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok, err := p.lex.Peek()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.IsSpecial(')'):
			p.advance()
			return call, nil
		case tok.IsSpecial(','):
			p.advance()
		default:
			return nil, unexpected(tok, ErrExpectedArgSeparator)
		}
	}
}
