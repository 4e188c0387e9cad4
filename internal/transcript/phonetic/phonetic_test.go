package phonetic_test

import (
	"slices"
	"testing"

	"github.com/mmende/pocketsphinx-go/internal/transcript/phonetic"
)

var commands = []string{
	"go forward ten meters",
	"go backward ten meters",
	"turn left",
	"turn right",
	"stop",
}

func TestMatcher_Score(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if got := m.Score("Go forward, ten meters.", "go forward ten meters"); got != 1 {
		t.Errorf("exact match after normalisation scored %f, want 1", got)
	}
	if got := m.Score("", "stop"); got != 0 {
		t.Errorf("empty transcript scored %f, want 0", got)
	}
	near := m.Score("go forwards ten metres", "go forward ten meters")
	far := m.Score("go forwards ten metres", "turn left")
	if near <= far {
		t.Errorf("near %f <= far %f", near, far)
	}
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		transcript string
		want       string
		matched    bool
	}{
		{"go forward ten meters", "go forward ten meters", true},
		{"go forwards ten metres", "go forward ten meters", true},
		{"Go backward 10 meters", "go backward ten meters", true},
		{"turn write", "turn right", true},
		{"what a lovely afternoon for a picnic", "", false},
	}
	for _, tt := range tests {
		got, ok := m.Match(tt.transcript, commands)
		if ok != tt.matched {
			t.Errorf("Match(%q) matched = %v, want %v (got %+v)", tt.transcript, ok, tt.matched, got)
			continue
		}
		if ok && got.Text != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.transcript, got.Text, tt.want)
		}
	}
}

func TestMatcher_Rank(t *testing.T) {
	t.Parallel()

	ranked := phonetic.New().Rank("turn left", commands)
	if len(ranked) != len(commands) {
		t.Fatalf("Rank returned %d candidates, want %d", len(ranked), len(commands))
	}
	if ranked[0].Text != "turn left" || ranked[0].Score != 1 {
		t.Errorf("best = %+v", ranked[0])
	}
	if !slices.IsSortedFunc(ranked, func(a, b phonetic.Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	}) {
		t.Error("candidates not sorted by score")
	}
}

func TestMatcher_Spot(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	hits := m.Spot("well oh mighty computer please turn left", []string{"oh mighty computer", "turn left", "hello"})
	if len(hits) != 2 {
		t.Fatalf("hits = %+v, want 2", hits)
	}
	if hits[0].Phrase != "oh mighty computer" || hits[0].Word != 1 || hits[0].Words != 3 {
		t.Errorf("first hit = %+v", hits[0])
	}
	if hits[1].Phrase != "turn left" || hits[1].Word != 5 {
		t.Errorf("second hit = %+v", hits[1])
	}
	if got := m.Spot("nothing to see here", []string{"oh mighty computer"}); len(got) != 0 {
		t.Errorf("unexpected hits %+v", got)
	}
}

func TestMatcher_SpotEach(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if got := m.SpotThreshold(); got != 0.85 {
		t.Fatalf("SpotThreshold() = %v, want 0.85", got)
	}
	const transcript = "oh mighty computers turn left"
	phrases := []string{"oh mighty computer", "turn left"}

	tests := []struct {
		name      string
		minScores []float64
		want      []string
	}{
		{"matcher default", nil, phrases},
		{"zero keeps default", []float64{0, 0}, phrases},
		{"exact match required", []float64{1}, []string{"turn left"}},
		{"both strict", []float64{1, 1.01}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, h := range m.SpotEach(transcript, phrases, tt.minScores) {
				got = append(got, h.Phrase)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("SpotEach() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithThreshold(1.01), phonetic.WithSpotThreshold(1.01))
	if _, ok := strict.Match("stop", commands); ok {
		t.Error("threshold above 1 still matched")
	}
	if hits := strict.Spot("stop", []string{"stop"}); len(hits) != 0 {
		t.Error("spot threshold above 1 still reported a hit")
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	if got := phonetic.Words("Hello, World! It's 10."); !slices.Equal(got, []string{"hello", "world", "it's", "10"}) {
		t.Errorf("Words() = %v", got)
	}
}
