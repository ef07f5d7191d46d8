// Copyright 2024 The Kaleido Authors
// This file is part of the Kaleido library.
//
// The Kaleido library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package lexer_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kccani/kaleido/lang/lexer"
	"github.com/kccani/kaleido/lang/token"
)

// runTokenize lexes input and checks that it produces exactly the expected
// token strings (plus a final EOF).
func runTokenize(t *testing.T, name, input string, want ...string) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		toks, err := lexer.NewString("test.kld", input).Tokenize()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(toks) == 0 {
			t.Fatal("Tokenize returned empty slice")
		}
		if last := toks[len(toks)-1]; last.Valid() {
			t.Errorf("last token is %s, want EOF", last)
		}
		body := toks[:len(toks)-1]
		if len(body) != len(want) {
			t.Errorf("got %d tokens (excl. EOF), want %d", len(body), len(want))
			for i, tok := range body {
				t.Logf("  [%d] %s", i, tok)
			}
			return
		}
		for i, w := range want {
			if got := body[i].String(); got != w {
				t.Errorf("token[%d] = %s, want %s", i, got, w)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

func TestKeywordsAndIdentifiers(t *testing.T) {
	runTokenize(t, "def", "def", "def")
	runTokenize(t, "extern", "extern", "extern")
	runTokenize(t, "ident", "fib", "IDENT(fib)")
	runTokenize(t, "alnum", "x1y2", "IDENT(x1y2)")
	runTokenize(t, "keyword_prefix", "define", "IDENT(define)")
	runTokenize(t, "keyword_suffix", "externs", "IDENT(externs)")
	runTokenize(t, "underscore_splits", "a_b", "IDENT(a)", "SPECIAL(_)", "IDENT(b)")
}

func TestNumbers(t *testing.T) {
	runTokenize(t, "int", "3", "NUMBER(3)")
	runTokenize(t, "frac", "3.14", "NUMBER(3.14)")
	runTokenize(t, "leading_dot", ".5", "NUMBER(0.5)")
	runTokenize(t, "trailing_dot", "123.", "NUMBER(123)")
	runTokenize(t, "then_ident", "2x", "NUMBER(2)", "IDENT(x)")
	// The exponent marker is not part of a number.
	runTokenize(t, "no_exponent", "1e5", "NUMBER(1)", "IDENT(e5)")
}

func TestSpecials(t *testing.T) {
	runTokenize(t, "operators", "+-*<", "SPECIAL(+)", "SPECIAL(-)", "SPECIAL(*)", "SPECIAL(<)")
	runTokenize(t, "punctuation", "(),;", "SPECIAL(()", "SPECIAL())", "SPECIAL(,)", "SPECIAL(;)")
	runTokenize(t, "unknown", "/", "SPECIAL(/)")
	runTokenize(t, "final_char", "x;", "IDENT(x)", "SPECIAL(;)")
	runTokenize(t, "final_paren", "f(1)", "IDENT(f)", "SPECIAL(()", "NUMBER(1)", "SPECIAL())")
}

func TestWhitespaceNeverSurfaces(t *testing.T) {
	runTokenize(t, "empty", "")
	runTokenize(t, "blank", " \n\r\t \n")
	runTokenize(t, "newlines", "a\nb\r\nc", "IDENT(a)", "IDENT(b)", "IDENT(c)")
	runTokenize(t, "tabs", "\tdef\tf", "def", "IDENT(f)")
}

func TestComments(t *testing.T) {
	runTokenize(t, "whole_line", "# nothing here", /* no tokens */)
	runTokenize(t, "line", "# leading\nx", "IDENT(x)")
	runTokenize(t, "trailing", "x # trailing ( ; def\ny", "IDENT(x)", "IDENT(y)")
	runTokenize(t, "consecutive", "#a\n#b\n#c\n1", "NUMBER(1)")
	runTokenize(t, "cr", "#a\r1", "NUMBER(1)")
}

func TestDefinition(t *testing.T) {
	runTokenize(t, "fib", "def fib(x) fib(x-1) + fib(x-2)",
		"def", "IDENT(fib)", "SPECIAL(()", "IDENT(x)", "SPECIAL())",
		"IDENT(fib)", "SPECIAL(()", "IDENT(x)", "SPECIAL(-)", "NUMBER(1)", "SPECIAL())",
		"SPECIAL(+)",
		"IDENT(fib)", "SPECIAL(()", "IDENT(x)", "SPECIAL(-)", "NUMBER(2)", "SPECIAL())",
	)
}

// ---------------------------------------------------------------------------
// Lookahead
// ---------------------------------------------------------------------------

func TestPeekIsIdempotent(t *testing.T) {
	l := lexer.NewString("", "extern sin(a);")

	first, err := l.Peek()
	require.NoError(t, err)
	second, err := l.Peek()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, first.Is(token.Extern))

	got, err := l.Next()
	require.NoError(t, err)
	require.Equal(t, first, got)

	next, err := l.Peek()
	require.NoError(t, err)
	require.True(t, next.IsIdent("sin"))
}

func TestEOFRepeats(t *testing.T) {
	l := lexer.NewString("", "1")
	_, err := l.Next()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		tok, err := l.Next()
		require.NoError(t, err)
		require.False(t, tok.Valid())
	}
}

func TestPositions(t *testing.T) {
	toks, err := lexer.NewString("p.kld", "def f(x)\n  x + 1.5").Tokenize()
	require.NoError(t, err)

	want := []token.Position{
		{File: "p.kld", Line: 1, Column: 1}, // def
		{File: "p.kld", Line: 1, Column: 5}, // f
		{File: "p.kld", Line: 1, Column: 6}, // (
		{File: "p.kld", Line: 1, Column: 7}, // x
		{File: "p.kld", Line: 1, Column: 8}, // )
		{File: "p.kld", Line: 2, Column: 3}, // x
		{File: "p.kld", Line: 2, Column: 5}, // +
		{File: "p.kld", Line: 2, Column: 7}, // 1.5
	}
	require.Len(t, toks, len(want)+1)
	for i, pos := range want {
		require.Equal(t, pos, toks[i].Pos, "token %d (%s)", i, toks[i])
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestMalformedNumber(t *testing.T) {
	for _, src := range []string{"1.2.3", ".", "..", "4..2"} {
		t.Run(src, func(t *testing.T) {
			l := lexer.NewString("n.kld", "x + "+src)
			_, err := l.Tokenize()
			require.Error(t, err)
			require.True(t, errors.Is(err, lexer.ErrMalformedNumber))

			var lexErr *lexer.Error
			require.True(t, errors.As(err, &lexErr))
			require.Equal(t, src, lexErr.Text)
			require.Equal(t, 5, lexErr.Pos.Column)
		})
	}
}

func TestNumberOutOfRange(t *testing.T) {
	huge := strings.Repeat("9", 400)
	_, err := lexer.NewString("n.kld", "1 + "+huge).Tokenize()
	require.ErrorIs(t, err, lexer.ErrNumberRange)
	require.False(t, errors.Is(err, lexer.ErrMalformedNumber))

	var lexErr *lexer.Error
	require.True(t, errors.As(err, &lexErr))
	require.Equal(t, huge, lexErr.Text)
	require.Equal(t, 5, lexErr.Pos.Column)
}

func TestErrorIsSticky(t *testing.T) {
	l := lexer.NewString("", "1.1.1 2 3")
	_, err := l.Next()
	require.ErrorIs(t, err, lexer.ErrMalformedNumber)

	_, again := l.Next()
	require.Equal(t, err, again)
	_, peeked := l.Peek()
	require.Equal(t, err, peeked)
}

type failingReader struct{ n int }

var errBroken = errors.New("broken pipe")

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, errBroken
	}
	n := copy(p, strings.Repeat("a ", r.n))
	r.n = 0
	return n, nil
}

func TestReadErrorIsReturned(t *testing.T) {
	l := lexer.New("", &failingReader{n: 2})
	_, err := l.Tokenize()
	require.ErrorIs(t, err, errBroken)
}

func TestReaderInput(t *testing.T) {
	r := io.MultiReader(strings.NewReader("def f"), strings.NewReader("oo(x) x"))
	toks, err := lexer.New("", r).Tokenize()
	require.NoError(t, err)
	require.Len(t, toks, 7)
	require.True(t, toks[1].IsIdent("foo"))
}
