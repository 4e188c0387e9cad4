package decoder

import (
	"fmt"
	"os"
	"strings"
)

// AddWord adds a pronunciation to the engine dictionary. phones is a space
// separated phone string. With update the engine rebuilds the active search
// so the word is usable right away.
func (d *Decoder) AddWord(word, phones string, update bool) error {
	if d.closed {
		return fmt.Errorf("decoder: add word: %w", ErrUsage)
	}
	word = strings.TrimSpace(word)
	if word == "" || strings.TrimSpace(phones) == "" {
		return fmt.Errorf("decoder: add word %q: %w: empty word or pronunciation", word, ErrUsage)
	}
	if err := d.eng.Get().AddWord(word, phones, update); err != nil {
		return fmt.Errorf("decoder: add word %q: %w", word, err)
	}
	return nil
}

// LookupWord returns the pronunciation of word.
func (d *Decoder) LookupWord(word string) (string, bool) {
	if d.closed {
		return "", false
	}
	return d.eng.Get().LookupWord(word)
}

// LoadDict replaces the engine dictionary with the one at path. fillerPath
// is optional.
func (d *Decoder) LoadDict(path, fillerPath string) error {
	if d.closed {
		return fmt.Errorf("decoder: load dict: %w", ErrUsage)
	}
	for _, p := range []string{path, fillerPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("decoder: load dict: %w: %w", ErrIO, err)
		}
	}
	if err := d.eng.Get().LoadDict(path, fillerPath); err != nil {
		if isPathError(err) {
			return fmt.Errorf("decoder: load dict: %w: %w", ErrIO, err)
		}
		return fmt.Errorf("decoder: load dict: %w", err)
	}
	return nil
}

// SaveDict writes the engine dictionary to path.
func (d *Decoder) SaveDict(path string) error {
	if d.closed {
		return fmt.Errorf("decoder: save dict: %w", ErrUsage)
	}
	if err := d.eng.Get().SaveDict(path); err != nil {
		return fmt.Errorf("decoder: save dict: %w: %w", ErrIO, err)
	}
	return nil
}
