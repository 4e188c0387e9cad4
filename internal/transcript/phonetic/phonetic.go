// Package phonetic snaps free-form transcripts onto a closed set of
// sentences, such as the sentences a grammar accepts or the phrases of a
// keyword search.
//
// Similarity between a transcript and a candidate is computed in two parts:
//
//  1. Coverage: each candidate word is paired with its closest transcript
//     word. Words whose Double Metaphone codes overlap count as at least
//     the phonetic floor, everything else scores its Jaro-Winkler
//     similarity.
//  2. Shape: the Jaro-Winkler similarity of the whole strings, scaled by
//     how close the word counts are.
//
// Scores are in [0, 1]; an exact match scores 1.
package phonetic

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold     = 0.70
	defaultSpotThreshold = 0.85
	defaultPhoneticFloor = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum score for Match. Default: 0.70.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// WithSpotThreshold sets the minimum score for a keyphrase to be reported by
// Spot. Default: 0.85.
func WithSpotThreshold(threshold float64) Option {
	return func(m *Matcher) { m.spotThreshold = threshold }
}

// Matcher scores transcripts against candidate sentences. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	threshold     float64
	spotThreshold float64
	phoneticFloor float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold:     defaultThreshold,
		spotThreshold: defaultSpotThreshold,
		phoneticFloor: defaultPhoneticFloor,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SpotThreshold returns the minimum score Spot reports a keyphrase at.
func (m *Matcher) SpotThreshold() float64 { return m.spotThreshold }

// Candidate is a scored sentence.
type Candidate struct {
	Text  string
	Score float64
}

// Score returns the similarity of transcript and candidate.
func (m *Matcher) Score(transcript, candidate string) float64 {
	return m.score(tokens(transcript), tokens(candidate))
}

func (m *Matcher) score(in, cand []string) float64 {
	if len(in) == 0 || len(cand) == 0 {
		return 0
	}
	if slices.Equal(in, cand) {
		return 1
	}

	var coverage float64
	for _, c := range cand {
		cc := codes(c)
		best := 0.0
		for _, w := range in {
			s := matchr.JaroWinkler(w, c, false)
			if s < m.phoneticFloor && overlap(cc, codes(w)) {
				s = m.phoneticFloor
			}
			best = max(best, s)
		}
		coverage += best
	}
	coverage /= float64(len(cand))

	shape := matchr.JaroWinkler(strings.Join(in, " "), strings.Join(cand, " "), false)
	lenRatio := float64(min(len(in), len(cand))) / float64(max(len(in), len(cand)))
	return (coverage + shape) / 2 * (0.5 + 0.5*lenRatio)
}

// Rank scores every candidate and returns them best first. Ties keep the
// candidates' input order.
func (m *Matcher) Rank(transcript string, candidates []string) []Candidate {
	in := tokens(transcript)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Candidate{Text: c, Score: m.score(in, tokens(c))})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int { return cmp.Compare(b.Score, a.Score) })
	return out
}

// Match returns the candidate closest to transcript if it scores at least
// the threshold.
func (m *Matcher) Match(transcript string, candidates []string) (Candidate, bool) {
	ranked := m.Rank(transcript, candidates)
	if len(ranked) == 0 || ranked[0].Score < m.threshold {
		return Candidate{}, false
	}
	return ranked[0], true
}

// Hit is a keyphrase found in a transcript. Word is the index of the first
// transcript word it covers.
type Hit struct {
	Phrase string
	Word   int
	Words  int
	Score  float64
}

// Spot finds occurrences of phrases in transcript by sliding a window of
// each phrase's length over the transcript words. Overlapping hits keep the
// better scoring one. Hits are returned in transcript order.
func (m *Matcher) Spot(transcript string, phrases []string) []Hit {
	return m.SpotEach(transcript, phrases, nil)
}

// SpotEach is Spot with a minimum score per phrase. A missing or
// non-positive entry in minScores uses the matcher's spot threshold.
func (m *Matcher) SpotEach(transcript string, phrases []string, minScores []float64) []Hit {
	in := tokens(transcript)
	var hits []Hit
	for n, p := range phrases {
		pt := tokens(p)
		if len(pt) == 0 || len(pt) > len(in) {
			continue
		}
		floor := m.spotThreshold
		if n < len(minScores) && minScores[n] > 0 {
			floor = minScores[n]
		}
		for i := 0; i+len(pt) <= len(in); i++ {
			if s := m.score(in[i:i+len(pt)], pt); s >= floor {
				hits = append(hits, Hit{Phrase: p, Word: i, Words: len(pt), Score: s})
			}
		}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	used := make([]bool, len(in))
	var kept []Hit
	for _, h := range hits {
		if slices.Contains(used[h.Word:h.Word+h.Words], true) {
			continue
		}
		for i := range h.Words {
			used[h.Word+i] = true
		}
		kept = append(kept, h)
	}
	slices.SortFunc(kept, func(a, b Hit) int { return cmp.Compare(a.Word, b.Word) })
	return kept
}

// tokens lower-cases s and splits it into words, dropping punctuation.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r == '\'' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

// Words splits a transcript into the normalised words Spot indexes.
func Words(s string) []string { return tokens(s) }

func codes(word string) [2]string {
	p, s := matchr.DoubleMetaphone(word)
	return [2]string{p, s}
}

func overlap(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		if x == b[0] || x == b[1] {
			return true
		}
	}
	return false
}
