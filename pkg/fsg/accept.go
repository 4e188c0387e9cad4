package fsg

import (
	"slices"
	"strings"
)

// closure extends states with everything reachable through epsilon arcs.
func (g *Grammar) closure(states map[int]bool) map[int]bool {
	stack := make([]int, 0, len(states))
	for s := range states {
		stack = append(stack, s)
	}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, t := range g.Transitions {
			if t.From == s && t.Word == "" && !states[t.To] {
				states[t.To] = true
				stack = append(stack, t.To)
			}
		}
	}
	return states
}

// Accept reports whether the grammar accepts the whitespace-separated word
// sequence. Filler words in angle brackets such as <sil> are skipped.
func (g *Grammar) Accept(words string) bool {
	cur := g.closure(map[int]bool{g.Start: true})
	for _, w := range strings.Fields(words) {
		if strings.HasPrefix(w, "<") && strings.HasSuffix(w, ">") {
			continue
		}
		next := make(map[int]bool)
		for _, t := range g.Transitions {
			if cur[t.From] && t.Word == w {
				next[t.To] = true
			}
		}
		if len(next) == 0 {
			return false
		}
		cur = g.closure(next)
	}
	return cur[g.Final]
}

// Sentences enumerates up to limit distinct word sequences accepted by the
// grammar in breadth-first order. Sequences longer than maxWords are not explored,
// which bounds the enumeration of cyclic grammars.
func (g *Grammar) Sentences(limit, maxWords int) []string {
	type path struct {
		state int
		words []string
	}
	var (
		out   []string
		seen  = make(map[string]bool)
		queue = []path{{state: g.Start}}
		// Bound the search even for grammars with epsilon cycles.
		budget = 64 * (limit + 1) * (len(g.Transitions) + 1)
	)
	for len(queue) > 0 && len(out) < limit && budget > 0 {
		budget--
		p := queue[0]
		queue = queue[1:]
		if p.state == g.Final && len(p.words) > 0 {
			s := strings.Join(p.words, " ")
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		for _, t := range g.Transitions {
			if t.From != p.state {
				continue
			}
			words := p.words
			if t.Word != "" {
				if len(words) >= maxWords {
					continue
				}
				words = append(slices.Clip(words), t.Word)
			}
			queue = append(queue, path{state: t.To, words: words})
		}
	}
	return out
}
