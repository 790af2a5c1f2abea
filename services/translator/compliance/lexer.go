// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenPlaceholder
	tokenMarker
	tokenSemicolon
	tokenComma
	tokenDot
	tokenLParen
	tokenRParen
	tokenOperator
	tokenIllegal
)

// token is a single lexical unit of the scanned statement. Pos and End are
// byte offsets into the original input so the corrector can splice text at
// exact positions. For quoted identifiers, strings, and markers, Text holds
// the inner content while Pos/End span the delimiters.
type token struct {
	Kind tokenKind
	Text string
	Pos  int
	End  int
}

// lexer is a byte-wise scanner for the SQL subset the framework accepts.
// It is deliberately not a parser: the analyzer only needs a token stream
// to pattern-match clauses, aliases, and markers.
type lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

// scan tokenizes the whole input. The returned slice always ends with a
// tokenEOF entry. Scanning never fails; malformed input surfaces as
// tokenIllegal entries that the analyzer treats as a failed check.
func scan(input string) []token {
	l := newLexer(input)
	var toks []token
	for {
		tok := l.next()
		toks = append(toks, tok)
		if tok.Kind == tokenEOF {
			return toks
		}
	}
}

// readChar advances to the next character.
func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without advancing.
func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// next returns the next token from the input.
func (l *lexer) next() token {
	l.skipWhitespaceAndComments()

	start := l.pos

	switch l.ch {
	case 0:
		return token{Kind: tokenEOF, Pos: start, End: start}
	case ';':
		l.readChar()
		return token{Kind: tokenSemicolon, Text: ";", Pos: start, End: l.pos}
	case ',':
		l.readChar()
		return token{Kind: tokenComma, Text: ",", Pos: start, End: l.pos}
	case '.':
		l.readChar()
		return token{Kind: tokenDot, Text: ".", Pos: start, End: l.pos}
	case '(':
		l.readChar()
		return token{Kind: tokenLParen, Text: "(", Pos: start, End: l.pos}
	case ')':
		l.readChar()
		return token{Kind: tokenRParen, Text: ")", Pos: start, End: l.pos}
	case '?':
		l.readChar()
		return token{Kind: tokenPlaceholder, Text: "?", Pos: start, End: l.pos}
	case '\'':
		text, ok := l.readString()
		if !ok {
			return token{Kind: tokenIllegal, Text: l.input[start:l.pos], Pos: start, End: l.pos}
		}
		return token{Kind: tokenString, Text: text, Pos: start, End: l.pos}
	case '"':
		text, ok := l.readQuotedIdentifier()
		if !ok {
			return token{Kind: tokenIllegal, Text: l.input[start:l.pos], Pos: start, End: l.pos}
		}
		return token{Kind: tokenQuotedIdent, Text: text, Pos: start, End: l.pos}
	case '#':
		text, ok := l.readMarker()
		if !ok {
			return token{Kind: tokenIllegal, Text: l.input[start:l.pos], Pos: start, End: l.pos}
		}
		return token{Kind: tokenMarker, Text: text, Pos: start, End: l.pos}
	case '<':
		switch l.peekChar() {
		case '=', '>':
			op := l.input[start : start+2]
			l.readChar()
			l.readChar()
			return token{Kind: tokenOperator, Text: op, Pos: start, End: l.pos}
		default:
			l.readChar()
			return token{Kind: tokenOperator, Text: "<", Pos: start, End: l.pos}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return token{Kind: tokenOperator, Text: ">=", Pos: start, End: l.pos}
		}
		l.readChar()
		return token{Kind: tokenOperator, Text: ">", Pos: start, End: l.pos}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return token{Kind: tokenOperator, Text: "!=", Pos: start, End: l.pos}
		}
		l.readChar()
		return token{Kind: tokenIllegal, Text: "!", Pos: start, End: l.pos}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			l.readChar()
			return token{Kind: tokenOperator, Text: "||", Pos: start, End: l.pos}
		}
		l.readChar()
		return token{Kind: tokenOperator, Text: "|", Pos: start, End: l.pos}
	case ':':
		if l.peekChar() == ':' {
			l.readChar()
			l.readChar()
			return token{Kind: tokenOperator, Text: "::", Pos: start, End: l.pos}
		}
		l.readChar()
		return token{Kind: tokenOperator, Text: ":", Pos: start, End: l.pos}
	case '=', '+', '-', '*', '/', '%':
		op := string(l.ch)
		l.readChar()
		return token{Kind: tokenOperator, Text: op, Pos: start, End: l.pos}
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			text := l.readIdentifier()
			return token{Kind: tokenIdent, Text: text, Pos: start, End: l.pos}
		case isDigit(l.ch):
			text := l.readNumber()
			return token{Kind: tokenNumber, Text: text, Pos: start, End: l.pos}
		default:
			ch := l.ch
			l.readChar()
			return token{Kind: tokenIllegal, Text: string(ch), Pos: start, End: l.pos}
		}
	}
}

// skipWhitespaceAndComments skips whitespace and SQL comments.
func (l *lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		// Line comment (-- ...)
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		// Block comment (/* ... */)
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar() // skip /
			l.readChar() // skip *
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar() // skip *
					l.readChar() // skip /
					break
				}
				l.readChar()
			}
			continue
		}
		break
	}
}

// readString reads a single-quoted string literal. Handles '' escape for
// embedded quotes. Returns false if the literal is unterminated.
func (l *lexer) readString() (string, bool) {
	l.readChar() // skip opening quote
	var result strings.Builder
	for l.ch != 0 {
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				result.WriteByte('\'')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String(), false
}

// readQuotedIdentifier reads a double-quoted identifier. Handles "" escape
// for embedded double quotes. Returns false if unterminated.
func (l *lexer) readQuotedIdentifier() (string, bool) {
	l.readChar() // skip opening quote
	var result strings.Builder
	for l.ch != 0 {
		if l.ch == '"' {
			if l.peekChar() == '"' {
				result.WriteByte('"')
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String(), false
}

// readMarker reads a #NAME# framework marker. The name may contain letters,
// digits, and underscores. Returns false if the closing hash is missing.
func (l *lexer) readMarker() (string, bool) {
	l.readChar() // skip opening hash
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch != '#' || l.pos == start {
		return l.input[start:l.pos], false
	}
	name := l.input[start:l.pos]
	l.readChar() // skip closing hash
	return name, true
}

// readIdentifier reads an unquoted identifier.
func (l *lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer or decimal).
func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // skip .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
