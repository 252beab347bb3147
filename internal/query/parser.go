// Package query implements the boolean search language used to filter
// secrets: free terms, quoted phrases, field filters, negation, AND/OR
// with grouping. Queries are parsed to an AST and compiled to a pure
// predicate over a single record.
package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SyntaxError reports a malformed query together with the byte offset
// of the offending position in the original input.
type SyntaxError struct {
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Message)
}

// Parse turns a raw query string into an AST. Precedence is fixed as
// NOT > AND > OR; AND is left-associative and may be written explicitly
// or implied by adjacency, OR must be explicit. The keywords AND and OR
// are reserved only in exact uppercase. An empty or all-whitespace
// query is valid and yields a nil Node, which matches every record.
func Parse(input string) (Node, error) {
	p := &parser{input: input}
	p.skipSpace()
	if p.eof() {
		return nil, nil
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		r, _ := utf8.DecodeRuneInString(p.input[p.pos:])
		return nil, p.errorf("unexpected %q", r)
	}
	return n, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		mark := p.pos
		p.skipSpace()
		w, end := p.peekWord()
		if w != "OR" {
			p.pos = mark
			return left, nil
		}
		p.pos = end
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		mark := p.pos
		p.skipSpace()
		w, end := p.peekWord()
		switch {
		case w == "AND":
			p.pos = end
		case w == "OR", w == "" && p.peek() != '(' && p.peek() != '"':
			// Next token does not start another operand.
			p.pos = mark
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
}

func (p *parser) parseNot() (Node, error) {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		child, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	p.skipSpace()
	if p.eof() {
		return nil, p.errorf("unexpected end of query")
	}
	switch p.peek() {
	case '(':
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return inner, nil
	case '"':
		text, err := p.scanQuoted()
		if err != nil {
			return nil, err
		}
		if p.peek() == ':' {
			return p.parseFieldValue(text)
		}
		return &Phrase{Text: text}, nil
	default:
		start := p.pos
		w, end := p.peekWord()
		if w == "" {
			r, _ := utf8.DecodeRuneInString(p.input[p.pos:])
			return nil, p.errorf("unexpected %q", r)
		}
		if w == "AND" || w == "OR" {
			return nil, p.errorAt(start, "reserved word %q cannot be used as a term", w)
		}
		p.pos = end
		if p.peek() == ':' {
			return p.parseFieldValue(w)
		}
		return &Term{Text: w}, nil
	}
}

// parseFieldValue finishes a field filter after its key has been
// consumed and the cursor sits on the ':'. The value must follow the
// colon immediately; an intervening space is a syntax error.
func (p *parser) parseFieldValue(key string) (Node, error) {
	p.pos++
	if p.peek() == '"' {
		text, err := p.scanQuoted()
		if err != nil {
			return nil, err
		}
		return &FieldFilter{Field: key, Value: &Phrase{Text: text}}, nil
	}
	w, end := p.peekWord()
	if w == "" {
		return nil, p.errorf("missing value after ':'")
	}
	if w == "AND" || w == "OR" {
		return nil, p.errorf("reserved word %q cannot be used as a value", w)
	}
	p.pos = end
	return &FieldFilter{Field: key, Value: &Term{Text: w}}, nil
}

// scanQuoted consumes a double-quoted string starting at the current
// position and returns its unescaped content. A backslash escapes the
// following character literally, including quotes and backslashes.
func (p *parser) scanQuoted() (string, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for !p.eof() {
		if c := p.input[p.pos]; c == '"' {
			p.pos++
			return b.String(), nil
		} else if c == '\\' {
			p.pos++
			if p.eof() {
				break
			}
		}
		r, size := utf8.DecodeRuneInString(p.input[p.pos:])
		b.WriteRune(r)
		p.pos += size
	}
	return "", p.errorAt(start, "unterminated quoted string")
}

// peekWord scans an identifier at the current position without
// consuming it, returning the token and the offset just past it. An
// empty token means no identifier starts here.
func (p *parser) peekWord() (string, int) {
	i := p.pos
	for i < len(p.input) {
		r, size := utf8.DecodeRuneInString(p.input[i:])
		if !isIdentRune(r) {
			break
		}
		i += size
	}
	return p.input[p.pos:i], i
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		r == '_' || r == '-' || r == '.' || r == '*'
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) errorf(format string, args ...any) *SyntaxError {
	return p.errorAt(p.pos, format, args...)
}

func (p *parser) errorAt(offset int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}
