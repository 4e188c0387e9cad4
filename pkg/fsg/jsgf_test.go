package fsg

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const robotJSGF = `#JSGF V1.0 UTF-8 en;

/* Commands for a
   small robot. */
grammar robot;

public <command> = <move> | <turn> | stop {halt};
<move> = go [<direction>] <number>+ (meters | "centimeters");
<direction> = /3/ forward | /1/ backward;
<number> = one | two | ten;
<turn> = turn (left | right) [please]; // politeness is optional
public <idle> = <NULL> | hmm*;
`

func mustCompile(t *testing.T, src, rule string) *Grammar {
	t.Helper()
	g, err := CompileJSGF(src, rule)
	if err != nil {
		t.Fatalf("CompileJSGF(%q): %v", rule, err)
	}
	return g
}

func TestParseJSGF(t *testing.T) {
	t.Parallel()

	j, err := ParseJSGF(robotJSGF)
	if err != nil {
		t.Fatalf("ParseJSGF: %v", err)
	}
	if j.Name != "robot" {
		t.Errorf("Name = %q, want robot", j.Name)
	}
	want := []string{"command", "move", "direction", "number", "turn", "idle"}
	if got := j.Rules(); !slices.Equal(got, want) {
		t.Errorf("Rules() = %v, want %v", got, want)
	}
	if !j.Public("<command>") || !j.Public("robot.idle") || j.Public("move") {
		t.Error("public flags do not match the declarations")
	}
}

func TestCompile_Accept(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, robotJSGF, "")
	if g.Name != "robot.command" {
		t.Errorf("Name = %q, want the first public rule", g.Name)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		words string
		want  bool
	}{
		{"go forward ten meters", true},
		{"go two one centimeters", true},
		{"go backward one <sil> meters", true},
		{"turn left", true},
		{"turn right please", true},
		{"stop", true},
		{"go meters", false},
		{"go forward backward one meters", false},
		{"turn", false},
		{"halt", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.Accept(tt.words); got != tt.want {
			t.Errorf("Accept(%q) = %v, want %v", tt.words, got, tt.want)
		}
	}

	want := []string{"backward", "centimeters", "forward", "go", "left", "meters", "one", "please", "right", "stop", "ten", "turn", "two"}
	if got := g.Vocabulary(); !slices.Equal(got, want) {
		t.Errorf("Vocabulary() = %v, want %v", got, want)
	}
}

func TestCompile_Rule(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, robotJSGF, "<turn>")
	got := g.Sentences(10, 5)
	slices.Sort(got)
	want := []string{"turn left", "turn left please", "turn right", "turn right please"}
	if !slices.Equal(got, want) {
		t.Errorf("Sentences() = %v, want %v", got, want)
	}

	idle := mustCompile(t, robotJSGF, "idle")
	for _, w := range []string{"", "hmm", "hmm hmm hmm"} {
		if !idle.Accept(w) {
			t.Errorf("idle rule rejects %q", w)
		}
	}
}

func TestCompile_Weights(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, robotJSGF, "direction")
	probs := map[float64]bool{}
	for _, tr := range g.Transitions {
		if tr.Word == "" && tr.From == g.Start {
			probs[tr.Prob] = true
		}
	}
	if len(probs) != 2 || !probs[0.75] || !probs[0.25] {
		t.Errorf("alternative probabilities = %v, want 0.75 and 0.25", probs)
	}
	var sum float64
	for p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("alternative probabilities sum to %g", sum)
	}
}

func TestCompile_RoundTrip(t *testing.T) {
	t.Parallel()

	g := mustCompile(t, robotJSGF, "move")
	var b strings.Builder
	if err := g.Write(&b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	back := mustParse(t, b.String())
	for _, w := range []string{"go ten meters", "go forward one two centimeters"} {
		if !back.Accept(w) {
			t.Errorf("written grammar rejects %q", w)
		}
	}
}

func TestParseJSGFFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "robot.gram")
	if err := os.WriteFile(path, []byte(robotJSGF), 0o644); err != nil {
		t.Fatal(err)
	}
	j, err := ParseJSGFFile(path)
	if err != nil {
		t.Fatalf("ParseJSGFFile: %v", err)
	}
	if j.Name != "robot" {
		t.Errorf("Name = %q", j.Name)
	}
	if _, err := ParseJSGFFile(filepath.Join(t.TempDir(), "missing.gram")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want ErrNotExist", err)
	}
}

func TestJSGF_Errors(t *testing.T) {
	t.Parallel()

	const head = "#JSGF V1.0;\ngrammar g;\n"
	tests := []struct {
		name string
		src  string
		rule string
		want error
	}{
		{"no grammar declaration", "#JSGF V1.0;\npublic <a> = go;\n", "", ErrSyntax},
		{"unterminated header", "#JSGF V1.0", "", ErrSyntax},
		{"import", head + "import <other.*>;\n", "", ErrSyntax},
		{"missing semicolon", head + "public <a> = go\n", "", ErrSyntax},
		{"unbalanced group", head + "public <a> = (go | stop;\n", "", ErrSyntax},
		{"empty alternative", head + "public <a> = go | ;\n", "", ErrSyntax},
		{"bad weight", head + "public <a> = /x/ go | /1/ stop;\n", "", ErrSyntax},
		{"duplicate rule", head + "<a> = go;\n<a> = stop;\n", "", ErrSyntax},
		{"unterminated comment", head + "/* public <a> = go;\n", "", ErrSyntax},
		{"no public rule", head + "<a> = go;\n", "", ErrInvalid},
		{"unknown rule", head + "public <a> = go;\n", "b", ErrInvalid},
		{"undefined reference", head + "public <a> = go <b>;\n", "", ErrInvalid},
		{"recursion", head + "public <a> = go [<a>];\n", "", ErrInvalid},
		{"only void", head + "public <a> = <VOID>;\n", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, err := CompileJSGF(tt.src, tt.rule)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("CompileJSGF: %v", err)
				}
				if g.Accept("") || len(g.Sentences(5, 5)) != 0 {
					t.Error("<VOID> grammar accepts input")
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
