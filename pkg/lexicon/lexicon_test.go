package lexicon

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const sample = `;;; test dictionary
go G OW
forward F AO R W ER D
forward(2) F AO R W ER D Z
ten T EH N
`

func TestLoadLookup(t *testing.T) {
	t.Parallel()

	d, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if got, ok := d.Lookup("forward"); !ok || got != "F AO R W ER D" {
		t.Errorf("Lookup(forward) = %q, %v", got, ok)
	}
	if got := d.Pronunciations("forward"); len(got) != 2 {
		t.Errorf("Pronunciations(forward) = %v, want 2 entries", got)
	}
	if _, ok := d.Lookup("backward"); ok {
		t.Error("Lookup(backward) found a missing word")
	}
	if got := slices.Collect(d.Words()); !slices.Equal(got, []string{"forward", "go", "ten"}) {
		t.Errorf("Words() = %v", got)
	}
}

func TestLoad_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := Load(strings.NewReader("lonely\n")); !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestAdd(t *testing.T) {
	t.Parallel()

	d := New()
	changed, err := d.Add("hello", "HH AH L OW")
	if err != nil || !changed {
		t.Fatalf("Add = %v, %v; want true, nil", changed, err)
	}
	if changed, _ := d.Add("hello", "HH  AH L OW"); changed {
		t.Error("identical pronunciation reported as a change")
	}
	if changed, _ := d.Add("hello", "HH EH L OW"); !changed {
		t.Error("alternate pronunciation not added")
	}
	if _, err := d.Add("hello", "  "); !errors.Is(err, ErrFormat) {
		t.Errorf("empty phones: err = %v, want ErrFormat", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	d, _ := Load(strings.NewReader(sample))
	path := filepath.Join(t.TempDir(), "out.dict")
	if err := d.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	e, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	for w := range d.Words() {
		if !slices.Equal(d.Pronunciations(w), e.Pronunciations(w)) {
			t.Errorf("%s: %v != %v", w, d.Pronunciations(w), e.Pronunciations(w))
		}
	}
}
