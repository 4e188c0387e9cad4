package fsg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// JSGF is a grammar in the Java Speech Grammar Format. It is compiled into a
// [Grammar] one rule at a time with [JSGF.Compile].
//
// Supported are rule definitions with alternatives, sequences, optional [x]
// and grouped (x) expansions, rule references, the * and + operators, the
// special rules <NULL> and <VOID>, quoted tokens and alternative weights
// (/w/). Tags ({...}) and comments are skipped. Imports are rejected.
type JSGF struct {
	Name  string
	rules map[string]*jsgfRule
	order []string
}

type jsgfRule struct {
	public bool
	body   expansion
}

type expansionKind int

const (
	expWord expansionKind = iota
	expRef
	expSeq
	expAlt
	expOptional
	expStar
	expPlus
)

type expansion struct {
	kind expansionKind
	// name is the word or the referenced rule.
	name    string
	kids    []expansion
	weights []float64
}

// Rules returns the rule names in declaration order.
func (j *JSGF) Rules() []string { return append([]string(nil), j.order...) }

// Public reports whether the rule is declared public.
func (j *JSGF) Public(rule string) bool {
	r, ok := j.rules[j.ruleName(rule)]
	return ok && r.public
}

func (j *JSGF) ruleName(rule string) string {
	rule = strings.TrimSuffix(strings.TrimPrefix(rule, "<"), ">")
	if j.Name != "" {
		rule = strings.TrimPrefix(rule, j.Name+".")
	}
	return rule
}

// ParseJSGFFile reads a JSGF grammar from the file at path.
func ParseJSGFFile(path string) (*JSGF, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fsg: read jsgf: %w", err)
	}
	return ParseJSGF(string(b))
}

// ParseJSGF parses JSGF grammar source.
func ParseJSGF(src string) (*JSGF, error) {
	toks, err := lexJSGF(src)
	if err != nil {
		return nil, err
	}
	p := &jsgfParser{toks: toks}
	j := &JSGF{rules: make(map[string]*jsgfRule)}

	if t := p.peek(); t.kind == tokWord && strings.HasPrefix(t.text, "#JSGF") {
		for t := p.next(); t.kind != ';'; t = p.next() {
			if t.kind == tokEOF {
				return nil, fmt.Errorf("%w: unterminated #JSGF header", ErrSyntax)
			}
		}
	}
	if t := p.next(); t.kind != tokWord || t.text != "grammar" {
		return nil, p.errorf(t, "want grammar declaration")
	}
	name := p.next()
	if name.kind != tokWord {
		return nil, p.errorf(name, "want grammar name")
	}
	j.Name = name.text
	if err := p.expect(';'); err != nil {
		return nil, err
	}

	for p.peek().kind != tokEOF {
		t := p.next()
		if t.kind == tokWord && t.text == "import" {
			return nil, fmt.Errorf("%w: line %d: imports are not supported", ErrSyntax, t.line)
		}
		public := t.kind == tokWord && t.text == "public"
		if public {
			t = p.next()
		}
		if t.kind != tokRef {
			return nil, p.errorf(t, "want rule name")
		}
		if _, dup := j.rules[t.text]; dup {
			return nil, fmt.Errorf("%w: line %d: rule <%s> defined twice", ErrSyntax, t.line, t.text)
		}
		if err := p.expect('='); err != nil {
			return nil, err
		}
		body, err := p.alternatives()
		if err != nil {
			return nil, err
		}
		if err := p.expect(';'); err != nil {
			return nil, err
		}
		j.rules[t.text] = &jsgfRule{public: public, body: body}
		j.order = append(j.order, t.text)
	}
	return j, nil
}

// CompileJSGF parses src and compiles rule, or the first public rule when
// rule is empty.
func CompileJSGF(src, rule string) (*Grammar, error) {
	j, err := ParseJSGF(src)
	if err != nil {
		return nil, err
	}
	return j.Compile(rule)
}

// Compile expands rule into a finite-state grammar. An empty rule selects
// the first public rule. Alternatives split the probability mass by their
// weights; all other transitions have probability 1. Recursive rules are
// rejected.
func (j *JSGF) Compile(rule string) (*Grammar, error) {
	name := j.ruleName(rule)
	if name == "" {
		for _, n := range j.order {
			if j.rules[n].public {
				name = n
				break
			}
		}
		if name == "" {
			return nil, fmt.Errorf("%w: grammar %s has no public rule", ErrInvalid, j.Name)
		}
	}
	r, ok := j.rules[name]
	if !ok {
		return nil, fmt.Errorf("%w: grammar %s has no rule <%s>", ErrInvalid, j.Name, name)
	}

	b := &jsgfBuilder{
		j:      j,
		g:      &Grammar{Name: j.Name + "." + name, Start: 0, Final: 1, NumStates: 2},
		active: map[string]bool{name: true},
	}
	if err := b.build(r.body, 0, 1); err != nil {
		return nil, err
	}
	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}

type jsgfBuilder struct {
	j      *JSGF
	g      *Grammar
	active map[string]bool
}

func (b *jsgfBuilder) state() int {
	b.g.NumStates++
	return b.g.NumStates - 1
}

func (b *jsgfBuilder) arc(from, to int, prob float64, word string) {
	b.g.Transitions = append(b.g.Transitions, Transition{From: from, To: to, Prob: prob, Word: word})
}

// build adds the arcs for e leading from state from to state to.
func (b *jsgfBuilder) build(e expansion, from, to int) error {
	switch e.kind {
	case expWord:
		b.arc(from, to, 1, e.name)
	case expRef:
		switch e.name {
		case "NULL":
			b.arc(from, to, 1, "")
			return nil
		case "VOID":
			return nil
		}
		r, ok := b.j.rules[e.name]
		if !ok {
			return fmt.Errorf("%w: grammar %s: undefined rule <%s>", ErrInvalid, b.j.Name, e.name)
		}
		if b.active[e.name] {
			return fmt.Errorf("%w: grammar %s: rule <%s> is recursive", ErrInvalid, b.j.Name, e.name)
		}
		b.active[e.name] = true
		defer delete(b.active, e.name)
		return b.build(r.body, from, to)
	case expSeq:
		cur := from
		for i, k := range e.kids {
			next := to
			if i < len(e.kids)-1 {
				next = b.state()
			}
			if err := b.build(k, cur, next); err != nil {
				return err
			}
			cur = next
		}
	case expAlt:
		var sum float64
		for _, w := range e.weights {
			sum += w
		}
		for i, k := range e.kids {
			s := b.state()
			b.arc(from, s, e.weights[i]/sum, "")
			if err := b.build(k, s, to); err != nil {
				return err
			}
		}
	case expOptional:
		b.arc(from, to, 1, "")
		return b.build(e.kids[0], from, to)
	case expStar:
		hub := b.state()
		b.arc(from, hub, 1, "")
		b.arc(hub, to, 1, "")
		return b.build(e.kids[0], hub, hub)
	case expPlus:
		in, out := b.state(), b.state()
		b.arc(from, in, 1, "")
		b.arc(out, in, 1, "")
		b.arc(out, to, 1, "")
		return b.build(e.kids[0], in, out)
	}
	return nil
}

const (
	tokEOF = iota
	tokWord
	tokRef
	tokWeight
)

type jsgfToken struct {
	// kind is one of the tok constants or a punctuation byte.
	kind int
	text string
	line int
}

const jsgfPunct = "=;|()[]*+"

func lexJSGF(src string) ([]jsgfToken, error) {
	var toks []jsgfToken
	line := 1
	// until returns the index of the next sep at or after i, counting lines.
	until := func(i int, sep string) int {
		j := strings.Index(src[i:], sep)
		if j < 0 {
			return -1
		}
		line += strings.Count(src[i:i+j], "\n")
		return i + j
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "//"):
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(src)
			}
		case strings.HasPrefix(src[i:], "/*"):
			j := until(i+2, "*/")
			if j < 0 {
				return nil, fmt.Errorf("%w: line %d: unterminated comment", ErrSyntax, line)
			}
			i = j + 2
		case c == '/' || c == '<' || c == '{' || c == '"':
			closer := map[byte]string{'/': "/", '<': ">", '{': "}", '"': `"`}[c]
			start := line
			j := until(i+1, closer)
			if j < 0 {
				return nil, fmt.Errorf("%w: line %d: unterminated %c", ErrSyntax, start, c)
			}
			body := strings.TrimSpace(src[i+1 : j])
			i = j + 1
			switch c {
			case '/':
				toks = append(toks, jsgfToken{kind: tokWeight, text: body, line: start})
			case '<':
				toks = append(toks, jsgfToken{kind: tokRef, text: body, line: start})
			case '"':
				toks = append(toks, jsgfToken{kind: tokWord, text: body, line: start})
			}
		case strings.IndexByte(jsgfPunct, c) >= 0:
			toks = append(toks, jsgfToken{kind: int(c), line: line})
			i++
		default:
			j := i
			for j < len(src) && !strings.ContainsRune(" \t\r\n/<>{}\""+jsgfPunct, rune(src[j])) {
				j++
			}
			toks = append(toks, jsgfToken{kind: tokWord, text: src[i:j], line: line})
			i = j
		}
	}
	return append(toks, jsgfToken{kind: tokEOF, line: line}), nil
}

type jsgfParser struct {
	toks []jsgfToken
	pos  int
}

func (p *jsgfParser) peek() jsgfToken { return p.toks[p.pos] }

func (p *jsgfParser) next() jsgfToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *jsgfParser) errorf(t jsgfToken, format string, args ...any) error {
	got := t.text
	switch {
	case t.kind == tokEOF:
		got = "end of input"
	case t.kind > tokWeight:
		got = string(rune(t.kind))
	case t.kind == tokRef:
		got = "<" + got + ">"
	}
	return fmt.Errorf("%w: line %d: %s, got %q", ErrSyntax, t.line, fmt.Sprintf(format, args...), got)
}

func (p *jsgfParser) expect(kind int) error {
	if t := p.next(); t.kind != kind {
		return p.errorf(t, "want %q", rune(kind))
	}
	return nil
}

func (p *jsgfParser) alternatives() (expansion, error) {
	alt := expansion{kind: expAlt}
	for {
		w := 1.0
		if t := p.peek(); t.kind == tokWeight {
			p.next()
			v, err := strconv.ParseFloat(t.text, 64)
			if err != nil || v <= 0 {
				return expansion{}, fmt.Errorf("%w: line %d: bad weight /%s/", ErrSyntax, t.line, t.text)
			}
			w = v
		}
		seq, err := p.sequence()
		if err != nil {
			return expansion{}, err
		}
		alt.kids = append(alt.kids, seq)
		alt.weights = append(alt.weights, w)
		if p.peek().kind != '|' {
			break
		}
		p.next()
	}
	if len(alt.kids) == 1 {
		return alt.kids[0], nil
	}
	return alt, nil
}

func (p *jsgfParser) sequence() (expansion, error) {
	seq := expansion{kind: expSeq}
	for {
		switch p.peek().kind {
		case '|', ';', ')', ']', tokEOF:
			switch len(seq.kids) {
			case 0:
				return expansion{}, p.errorf(p.peek(), "empty expansion")
			case 1:
				return seq.kids[0], nil
			}
			return seq, nil
		}
		item, err := p.item()
		if err != nil {
			return expansion{}, err
		}
		seq.kids = append(seq.kids, item)
	}
}

func (p *jsgfParser) item() (expansion, error) {
	var e expansion
	switch t := p.next(); t.kind {
	case tokWord:
		e = expansion{kind: expWord, name: t.text}
	case tokRef:
		e = expansion{kind: expRef, name: t.text}
	case '(', '[':
		inner, err := p.alternatives()
		if err != nil {
			return expansion{}, err
		}
		if t.kind == '(' {
			err = p.expect(')')
			e = inner
		} else {
			err = p.expect(']')
			e = expansion{kind: expOptional, kids: []expansion{inner}}
		}
		if err != nil {
			return expansion{}, err
		}
	default:
		return expansion{}, p.errorf(t, "want a word, rule or group")
	}
	for {
		switch p.peek().kind {
		case '*':
			e = expansion{kind: expStar, kids: []expansion{e}}
		case '+':
			e = expansion{kind: expPlus, kids: []expansion{e}}
		default:
			return e, nil
		}
		p.next()
	}
}
