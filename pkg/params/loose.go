package params

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseLoose parses the relaxed JSON-like format used for decoder
// configuration strings:
//
//	hmm: /models/en-us, dict: "/models/cmudict en.dict"
//	{ samprate: 8000 bestpath: false }
//
// Keys may be unquoted and may carry a leading dash ("-hmm"), the outer
// braces and the commas between entries are optional, ':' or '=' separates a
// key from its value, and lines starting with '#' are comments. Values are
// bare tokens or double-quoted strings and are converted to the type of their
// parameter.
func ParseLoose(s string) (*Params, error) {
	p := New()
	lx := &lexer{src: s}
	for {
		lx.skipSpace()
		if lx.done() {
			return p, nil
		}
		key, err := lx.token(false)
		if err != nil {
			return nil, err
		}
		lx.skipBlank()
		if c, ok := lx.peek(); !ok || (c != ':' && c != '=') {
			return nil, fmt.Errorf("%w: expected ':' after %q at offset %d", ErrInvalidConfig, key, lx.pos)
		}
		lx.pos++
		lx.skipBlank()
		if lx.done() {
			return nil, fmt.Errorf("%w: missing value for %q", ErrInvalidConfig, key)
		}
		val, err := lx.token(true)
		if err != nil {
			return nil, err
		}
		if err := p.Set(strings.TrimPrefix(key, "-"), val); err != nil {
			return nil, err
		}
	}
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) done() bool { return l.pos >= len(l.src) }

func (l *lexer) peek() (byte, bool) {
	if l.done() {
		return 0, false
	}
	return l.src[l.pos], true
}

// skipSpace skips whitespace, separators, braces and comment lines.
func (l *lexer) skipSpace() {
	for !l.done() {
		c := l.src[l.pos]
		switch {
		case c == '#' && l.atLineStart():
			for !l.done() && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == ',' || c == '{' || c == '}' || unicode.IsSpace(rune(c)):
			l.pos++
		default:
			return
		}
	}
}

// skipBlank skips horizontal and vertical whitespace only.
func (l *lexer) skipBlank() {
	for !l.done() && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
}

func (l *lexer) atLineStart() bool {
	i := l.pos - 1
	for i >= 0 && (l.src[i] == ' ' || l.src[i] == '\t') {
		i--
	}
	return i < 0 || l.src[i] == '\n'
}

// token reads a bare or quoted token. Inside a value, ':' and '=' are plain
// characters so that drive letters and URLs survive unquoted.
func (l *lexer) token(value bool) (string, error) {
	if c, _ := l.peek(); c == '"' {
		return l.quoted()
	}
	start := l.pos
	for !l.done() {
		c := l.src[l.pos]
		if unicode.IsSpace(rune(c)) || c == ',' || c == '}' || c == '{' {
			break
		}
		if !value && (c == ':' || c == '=') {
			break
		}
		l.pos++
	}
	if l.pos == start {
		return "", fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidConfig, l.src[l.pos], l.pos)
	}
	return l.src[start:l.pos], nil
}

func (l *lexer) quoted() (string, error) {
	start := l.pos
	l.pos++
	for !l.done() {
		switch l.src[l.pos] {
		case '\\':
			l.pos += 2
			continue
		case '"':
			l.pos++
			s, err := strconv.Unquote(l.src[start:l.pos])
			if err != nil {
				return "", fmt.Errorf("%w: bad string at offset %d: %w", ErrInvalidConfig, start, err)
			}
			return s, nil
		}
		l.pos++
	}
	return "", fmt.Errorf("%w: unterminated string at offset %d", ErrInvalidConfig, start)
}
