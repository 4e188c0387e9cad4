// Package lexicon implements a pronunciation dictionary in the CMU text
// format. Each line holds a word followed by its phones; alternate
// pronunciations are written as WORD(2), WORD(3) and so on. Lines starting
// with ";;;" or "#" are comments.
package lexicon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

// ErrFormat is returned for malformed dictionary lines.
var ErrFormat = errors.New("lexicon: malformed entry")

// Dictionary maps words to one or more pronunciations. It is safe for
// concurrent use.
type Dictionary struct {
	mu      sync.RWMutex
	entries map[string][][]string
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{entries: make(map[string][][]string)}
}

// LoadFile reads a dictionary from the file at path.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()
	d, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("lexicon: load %q: %w", path, err)
	}
	return d, nil
}

// Load reads a dictionary from r.
func Load(r io.Reader) (*Dictionary, error) {
	d := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";;;") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: %q has no phones", ErrFormat, lineNo, line)
		}
		word := baseWord(fields[0])
		d.entries[word] = append(d.entries[word], fields[1:])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: read: %w", err)
	}
	return d, nil
}

// baseWord strips an alternate-pronunciation suffix such as "(2)".
func baseWord(w string) string {
	if i := strings.LastIndexByte(w, '('); i > 0 && strings.HasSuffix(w, ")") {
		return w[:i]
	}
	return w
}

// Add registers a pronunciation for word. phones is a whitespace-separated
// phone string. A pronunciation identical to an existing one is ignored;
// a different one is added as an alternate. It reports whether the
// dictionary changed.
func (d *Dictionary) Add(word, phones string) (bool, error) {
	ph := strings.Fields(phones)
	if word == "" || len(ph) == 0 {
		return false, fmt.Errorf("%w: word %q with phones %q", ErrFormat, word, phones)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.entries[word] {
		if slices.Equal(existing, ph) {
			return false, nil
		}
	}
	d.entries[word] = append(d.entries[word], ph)
	return true, nil
}

// Lookup returns the primary pronunciation of word as a space-separated
// phone string.
func (d *Dictionary) Lookup(word string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prons := d.entries[word]
	if len(prons) == 0 {
		return "", false
	}
	return strings.Join(prons[0], " "), true
}

// Pronunciations returns all pronunciations of word.
func (d *Dictionary) Pronunciations(word string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries[word]))
	for _, p := range d.entries[word] {
		out = append(out, strings.Join(p, " "))
	}
	return out
}

// Contains reports whether word has at least one pronunciation.
func (d *Dictionary) Contains(word string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries[word]) > 0
}

// Len returns the number of distinct words.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Words yields the distinct words in sorted order.
func (d *Dictionary) Words() iter.Seq[string] {
	d.mu.RLock()
	words := slices.Sorted(maps.Keys(d.entries))
	d.mu.RUnlock()
	return slices.Values(words)
}

// Save writes the dictionary to w in sorted order.
func (d *Dictionary) Save(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bw := bufio.NewWriter(w)
	for _, word := range slices.Sorted(maps.Keys(d.entries)) {
		for i, p := range d.entries[word] {
			name := word
			if i > 0 {
				name = fmt.Sprintf("%s(%d)", word, i+1)
			}
			fmt.Fprintf(bw, "%s %s\n", name, strings.Join(p, " "))
		}
	}
	return bw.Flush()
}

// SaveFile writes the dictionary to the file at path.
func (d *Dictionary) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lexicon: create %q: %w", path, err)
	}
	if err := d.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("lexicon: write %q: %w", path, err)
	}
	return f.Close()
}
