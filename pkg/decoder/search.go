package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/fsg"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

// AddSearch compiles def and registers it under name. The name must not be
// registered already; remove the existing search first to replace it.
func (d *Decoder) AddSearch(name string, def engine.Definition) error {
	return d.addSearch(name, def, false)
}

func (d *Decoder) addSearch(name string, def engine.Definition, replace bool) error {
	if d.closed {
		return fmt.Errorf("decoder: add search %q: %w", name, ErrUsage)
	}
	if name == "" {
		return fmt.Errorf("decoder: add search: %w: empty name", ErrUsage)
	}
	old, exists := d.searches[name]
	if exists && !replace {
		return fmt.Errorf("decoder: add search %q: %w", name, ErrDuplicateSearch)
	}

	h, err := resource.New(d.eng.Get().Compile(def))
	if err != nil {
		if isPathError(err) {
			err = fmt.Errorf("%w: %w", ErrIO, err)
		}
		return fmt.Errorf("decoder: add search %q: %w", name, err)
	}
	if exists {
		if err := old.Close(); err != nil {
			d.log.Warn("decoder: release replaced search", "search", name, "err", err)
		}
	}
	d.searches[name] = h
	d.log.Debug("decoder: search added", "search", name, "kind", def.Kind)
	return nil
}

func isPathError(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe)
}

func statFile(op, name, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("decoder: %s %q: %w: %w", op, name, ErrIO, err)
	}
	return nil
}

// AddJSGFFile adds a grammar search from a JSGF file.
func (d *Decoder) AddJSGFFile(name, path string) error {
	if err := statFile("add jsgf", name, path); err != nil {
		return err
	}
	return d.AddSearch(name, engine.Definition{Kind: engine.Grammar, JSGF: true, Path: path})
}

// AddJSGFString adds a grammar search from JSGF source text.
func (d *Decoder) AddJSGFString(name, jsgf string) error {
	return d.AddSearch(name, engine.Definition{Kind: engine.Grammar, JSGF: true, Text: jsgf})
}

// AddFSG adds a grammar search from an in-memory finite state grammar.
func (d *Decoder) AddFSG(name string, g *fsg.Grammar) error {
	if g == nil {
		return fmt.Errorf("decoder: add fsg %q: %w: nil grammar", name, ErrUsage)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("decoder: add fsg %q: %w: %w", name, ErrInitialization, err)
	}
	return d.AddSearch(name, engine.Definition{Kind: engine.Grammar, Grammar: g})
}

// AddFSGFile adds a grammar search from a file in FSG text format.
func (d *Decoder) AddFSGFile(name, path string) error {
	if err := statFile("add fsg", name, path); err != nil {
		return err
	}
	g, err := fsg.ParseFile(path)
	if err != nil {
		if isPathError(err) {
			return fmt.Errorf("decoder: add fsg %q: %w: %w", name, ErrIO, err)
		}
		return fmt.Errorf("decoder: add fsg %q: %w: %w", name, ErrInitialization, err)
	}
	return d.AddSearch(name, engine.Definition{Kind: engine.Grammar, Grammar: g, Path: path})
}

// AddLMFile adds an N-gram language model search.
func (d *Decoder) AddLMFile(name, path string) error {
	if err := statFile("add lm", name, path); err != nil {
		return err
	}
	return d.AddSearch(name, engine.Definition{Kind: engine.LanguageModel, Path: path})
}

// AddKeywordFile adds a keyword spotting search from a keyphrase list. Each
// non-empty line holds one phrase, optionally followed by a detection
// threshold between slashes. Phrases without one use the kws_threshold
// parameter.
//
//	oh mighty computer /1e-40/
//	hello world
func (d *Decoder) AddKeywordFile(name, path string) error {
	kws, err := d.readKeywords(path)
	if err != nil {
		if isPathError(err) {
			return fmt.Errorf("decoder: add keywords %q: %w: %w", name, ErrIO, err)
		}
		return fmt.Errorf("decoder: add keywords %q: %w: %w", name, ErrInitialization, err)
	}
	if len(kws) == 0 {
		return fmt.Errorf("decoder: add keywords %q: %w: %s has no phrases", name, ErrInitialization, path)
	}
	return d.AddSearch(name, keywordDefinition(path, kws))
}

func keywordDefinition(path string, kws []engine.Keyword) engine.Definition {
	phrases := make([]string, len(kws))
	for i, kw := range kws {
		phrases[i] = kw.Phrase
	}
	return engine.Definition{
		Kind:     engine.KeywordSet,
		Path:     path,
		Text:     strings.Join(phrases, "\n"),
		Keywords: kws,
	}
}

func (d *Decoder) kwsThreshold() float64 {
	if d.params == nil {
		return 1
	}
	return d.params.Float("kws_threshold")
}

func (d *Decoder) readKeywords(path string) ([]engine.Keyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		kws    []engine.Keyword
		lineNo int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		kw := engine.Keyword{Phrase: line, Threshold: d.kwsThreshold()}
		if i := strings.IndexByte(line, '/'); i >= 0 {
			kw.Phrase = strings.TrimSpace(line[:i])
			raw := strings.TrimSpace(strings.Trim(line[i:], "/"))
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("%s:%d: bad threshold %q", path, lineNo, line[i:])
			}
			kw.Threshold = v
		}
		if kw.Phrase != "" {
			kws = append(kws, kw)
		}
	}
	return kws, sc.Err()
}

// AddKeyphrase adds a keyword spotting search for a single phrase detected
// with the kws_threshold parameter.
func (d *Decoder) AddKeyphrase(name, phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return fmt.Errorf("decoder: add keyphrase %q: %w: empty phrase", name, ErrUsage)
	}
	return d.AddSearch(name, keywordDefinition("", []engine.Keyword{{Phrase: phrase, Threshold: d.kwsThreshold()}}))
}

// AddPhoneLoopFile adds a phone loop search from a phone N-gram model.
func (d *Decoder) AddPhoneLoopFile(name, path string) error {
	if err := statFile("add allphone", name, path); err != nil {
		return err
	}
	return d.AddSearch(name, engine.Definition{Kind: engine.PhoneLoop, Path: path})
}

// SetAlignText adds or replaces the [AlignSearch] forced alignment of text
// and activates it.
func (d *Decoder) SetAlignText(text string) error {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return fmt.Errorf("decoder: set align text: %w: empty text", ErrUsage)
	}
	if err := d.addSearch(AlignSearch, engine.Definition{Kind: engine.ForceAlign, Text: text}, true); err != nil {
		return err
	}
	return d.ActivateSearch(AlignSearch)
}

// SetAlignment adds or replaces the [StateAlignSearch] built from the word
// segmentation of the last finished utterance and activates it. Decoding the
// same audio again then yields phone and state durations.
func (d *Decoder) SetAlignment() error {
	if len(d.lastWords) == 0 {
		return fmt.Errorf("decoder: set alignment: %w", ErrNoHypothesis)
	}
	def := engine.Definition{Kind: engine.StateAlign, Words: slices.Clone(d.lastWords)}
	if err := d.addSearch(StateAlignSearch, def, true); err != nil {
		return err
	}
	return d.ActivateSearch(StateAlignSearch)
}

// ActivateSearch selects the search used by the next StartUtt. A running
// utterance keeps the search it was started with.
func (d *Decoder) ActivateSearch(name string) error {
	h, ok := d.searches[name]
	if !ok {
		return fmt.Errorf("decoder: activate search %q: %w", name, ErrSearchNotFound)
	}
	d.active = name
	d.obs.SearchActivated(name, h.Get().Kind())
	d.log.Debug("decoder: search activated", "search", name)
	return nil
}

// RemoveSearch unregisters and releases a search. Removing the active
// search leaves no search active.
func (d *Decoder) RemoveSearch(name string) error {
	h, ok := d.searches[name]
	if !ok {
		return fmt.Errorf("decoder: remove search %q: %w", name, ErrSearchNotFound)
	}
	delete(d.searches, name)
	if d.active == name {
		d.active = ""
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("decoder: remove search %q: %w", name, err)
	}
	return nil
}

// CurrentSearch returns the name of the active search.
func (d *Decoder) CurrentSearch() (string, error) {
	if d.active == "" {
		return "", ErrNoActiveSearch
	}
	return d.active, nil
}

// Searches yields the registered search names in sorted order.
func (d *Decoder) Searches() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(d.searches)))
}

// SearchKind returns the kind of a registered search.
func (d *Decoder) SearchKind(name string) (engine.Kind, error) {
	h, ok := d.searches[name]
	if !ok {
		return 0, fmt.Errorf("decoder: search kind %q: %w", name, ErrSearchNotFound)
	}
	return h.Get().Kind(), nil
}

func (d *Decoder) lookup(op, name string) (engine.Search, error) {
	if name == "" {
		if d.active == "" {
			return nil, fmt.Errorf("decoder: %s: %w", op, ErrNoActiveSearch)
		}
		name = d.active
	}
	h, ok := d.searches[name]
	if !ok {
		return nil, fmt.Errorf("decoder: %s %q: %w", op, name, ErrSearchNotFound)
	}
	return h.Get(), nil
}

// Keyphrase returns the phrases of a keyword search, one per line. An
// empty name means the active search.
func (d *Decoder) Keyphrase(name string) (string, error) {
	s, err := d.lookup("keyphrase", name)
	if err != nil {
		return "", err
	}
	if s.Kind() != engine.KeywordSet {
		return "", fmt.Errorf("decoder: keyphrase %q: %w: search is %s", name, ErrUsage, s.Kind())
	}
	return s.Definition().Text, nil
}

// Grammar returns the finite state grammar of a grammar search added from
// FSG. It reports false for JSGF grammars and other kinds. An empty name
// means the active search.
func (d *Decoder) Grammar(name string) (*fsg.Grammar, bool) {
	s, err := d.lookup("grammar", name)
	if err != nil {
		return nil, false
	}
	def := s.Definition()
	if def.Kind != engine.Grammar || def.Grammar == nil {
		return nil, false
	}
	return def.Grammar, true
}
