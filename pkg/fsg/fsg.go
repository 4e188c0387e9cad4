// Package fsg reads, writes and interprets word finite-state grammars in the
// Sphinx text format:
//
//	FSG_BEGIN [name]
//	N <number of states>
//	S <start state>
//	F <final state>
//	T <from> <to> <prob> [word]
//	FSG_END
//
// States are numbered 0..N-1. A transition without a word is an epsilon
// transition. Lines with '#' in the first column are comments, both inside
// and outside the FSG_BEGIN/FSG_END block. The long keywords NUM_STATES,
// START_STATE, FINAL_STATE and TRANSITION are accepted as aliases.
package fsg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed grammar text.
var ErrSyntax = errors.New("fsg: syntax error")

// ErrInvalid is returned for grammars whose states or probabilities are out
// of range.
var ErrInvalid = errors.New("fsg: invalid grammar")

// Transition is one arc of the grammar.
type Transition struct {
	From, To int
	Prob     float64
	// Word is empty for epsilon transitions.
	Word string
}

// Grammar is a word-level finite-state grammar.
type Grammar struct {
	Name        string
	NumStates   int
	Start       int
	Final       int
	Transitions []Transition
}

// Validate checks state indices and transition probabilities.
func (g *Grammar) Validate() error {
	var errs []error
	if g.NumStates <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d states", ErrInvalid, g.NumStates))
	}
	inRange := func(s int) bool { return s >= 0 && s < g.NumStates }
	if !inRange(g.Start) {
		errs = append(errs, fmt.Errorf("%w: start state %d out of range", ErrInvalid, g.Start))
	}
	if !inRange(g.Final) {
		errs = append(errs, fmt.Errorf("%w: final state %d out of range", ErrInvalid, g.Final))
	}
	for i, t := range g.Transitions {
		if !inRange(t.From) || !inRange(t.To) {
			errs = append(errs, fmt.Errorf("%w: transition %d: %d -> %d out of range", ErrInvalid, i, t.From, t.To))
		}
		if t.Prob <= 0 || t.Prob > 1 {
			errs = append(errs, fmt.Errorf("%w: transition %d: probability %g out of range (0, 1]", ErrInvalid, i, t.Prob))
		}
	}
	return errors.Join(errs...)
}

// ParseFile reads a grammar from the file at path.
func ParseFile(path string) (*Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsg: open %q: %w", path, err)
	}
	defer f.Close()
	g, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("fsg: parse %q: %w", path, err)
	}
	return g, nil
}

// Parse reads one grammar from r and validates it. Text before FSG_BEGIN and
// after FSG_END is ignored.
func Parse(r io.Reader) (*Grammar, error) {
	sc := bufio.NewScanner(r)
	var (
		g        *Grammar
		ended    bool
		lineNo   int
		seenN    bool
		seenS    bool
		seenF    bool
		syntaxAt = func(msg string, args ...any) error {
			return fmt.Errorf("%w: line %d: %s", ErrSyntax, lineNo, fmt.Sprintf(msg, args...))
		}
	)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if g == nil {
			if fields[0] != "FSG_BEGIN" {
				continue
			}
			g = &Grammar{}
			if len(fields) > 1 {
				g.Name = strings.Join(fields[1:], " ")
			}
			continue
		}
		switch fields[0] {
		case "N", "NUM_STATES", "S", "START_STATE", "F", "FINAL_STATE":
			if len(fields) != 2 {
				return nil, syntaxAt("%s takes one argument", fields[0])
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, syntaxAt("%s: %q is not an integer", fields[0], fields[1])
			}
			switch fields[0][0] {
			case 'N':
				g.NumStates, seenN = n, true
			case 'S':
				g.Start, seenS = n, true
			case 'F':
				g.Final, seenF = n, true
			}
		case "T", "TRANSITION":
			if len(fields) < 4 || len(fields) > 5 {
				return nil, syntaxAt("transition needs from, to, prob and an optional word")
			}
			from, err1 := strconv.Atoi(fields[1])
			to, err2 := strconv.Atoi(fields[2])
			prob, err3 := strconv.ParseFloat(fields[3], 64)
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, syntaxAt("bad transition %q", line)
			}
			t := Transition{From: from, To: to, Prob: prob}
			if len(fields) == 5 {
				t.Word = fields[4]
			}
			g.Transitions = append(g.Transitions, t)
		case "FSG_END":
			ended = true
		default:
			return nil, syntaxAt("unexpected %q", fields[0])
		}
		if ended {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fsg: read: %w", err)
	}
	switch {
	case g == nil:
		return nil, fmt.Errorf("%w: no FSG_BEGIN", ErrSyntax)
	case !ended:
		return nil, fmt.Errorf("%w: no FSG_END", ErrSyntax)
	case !seenN || !seenS || !seenF:
		return nil, fmt.Errorf("%w: N, S and F lines are required", ErrSyntax)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Write serializes g in the text format read by [Parse].
func (g *Grammar) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if g.Name != "" {
		fmt.Fprintf(bw, "FSG_BEGIN %s\n", g.Name)
	} else {
		fmt.Fprintln(bw, "FSG_BEGIN")
	}
	fmt.Fprintf(bw, "NUM_STATES %d\n", g.NumStates)
	fmt.Fprintf(bw, "START_STATE %d\n", g.Start)
	fmt.Fprintf(bw, "FINAL_STATE %d\n", g.Final)
	fmt.Fprintln(bw)
	for _, t := range g.Transitions {
		prob := strconv.FormatFloat(t.Prob, 'g', -1, 64)
		if t.Word != "" {
			fmt.Fprintf(bw, "TRANSITION %d %d %s %s\n", t.From, t.To, prob, t.Word)
		} else {
			fmt.Fprintf(bw, "TRANSITION %d %d %s\n", t.From, t.To, prob)
		}
	}
	fmt.Fprintln(bw, "FSG_END")
	return bw.Flush()
}

// WriteFile writes g to the file at path, replacing it.
func (g *Grammar) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fsg: create %q: %w", path, err)
	}
	if err := g.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("fsg: write %q: %w", path, err)
	}
	return f.Close()
}

// Vocabulary returns the distinct words the grammar can emit, sorted.
func (g *Grammar) Vocabulary() []string {
	var words []string
	for _, t := range g.Transitions {
		if t.Word != "" {
			words = append(words, t.Word)
		}
	}
	slices.Sort(words)
	return slices.Compact(words)
}
