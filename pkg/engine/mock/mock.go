// Package mock provides a scripted test double for the engine package.
//
// Engine records every call and returns the results configured in its
// exported fields. Audio is counted in frames of SamplesPerFrame samples;
// a hypothesis only becomes visible once at least one frame was searched,
// so the no-search buffering of the session can be observed.
//
// Example:
//
//	eng := mock.New()
//	eng.Result = engine.Hypothesis{Text: "go forward ten meters", Score: -1200}
//	dec, _ := decoder.New(eng, p)
package mock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/lexicon"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

// SamplesPerFrame is the frame shift at 16 kHz and 100 frames per second.
const SamplesPerFrame = 160

// Search is a mock compiled search.
type Search struct {
	*resource.RefCount
	def engine.Definition
}

var _ engine.Search = (*Search)(nil)

// NewSearch returns a search holding one reference.
func NewSearch(def engine.Definition) *Search {
	return &Search{RefCount: resource.NewRefCount(nil), def: def}
}

func (s *Search) Kind() engine.Kind             { return s.def.Kind }
func (s *Search) Definition() engine.Definition { return s.def }

// ProcessCall records one call to Process.
type ProcessCall struct {
	Samples  int
	NoSearch bool
	FullUtt  bool
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	*resource.RefCount

	mu sync.Mutex

	// Result is the hypothesis reported once frames were searched. An empty
	// Text means no hypothesis.
	Result engine.Hypothesis

	// Words is the word segmentation reported with Result.
	Words []engine.Segment

	// Alternatives are appended after Result in NBest.
	Alternatives []engine.Hypothesis

	// Waives lists the required parameters the engine does without.
	Waives []string

	// ConfigureErr, CompileErr, BeginErr, ProcessErr and EndErr are returned
	// by the respective methods when non-nil.
	ConfigureErr error
	CompileErr   error
	BeginErr     error
	ProcessErr   error
	EndErr       error

	// Recorded calls.
	Configured   []*params.Params
	Compiled     []engine.Definition
	Begun        []engine.Search
	ProcessCalls []ProcessCall
	Ends         int
	NoiseResets  int
	Released     bool

	dict     *lexicon.Dictionary
	active   engine.Search
	pending  int
	searched int
	ended    bool
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Waiver = (*Engine)(nil)
)

// New returns a mock engine holding one reference.
func New() *Engine {
	e := &Engine{dict: lexicon.New()}
	e.RefCount = resource.NewRefCount(func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.Released = true
		return nil
	})
	return e
}

// Factory returns an engine.Factory that always hands out e, retained.
func Factory(e *Engine) engine.Factory {
	return func(*params.Params) (engine.Engine, error) {
		e.Retain()
		return e, nil
	}
}

func (e *Engine) WaivedParams() []string { return e.Waives }

// Dictionary exposes the engine's pronunciation dictionary.
func (e *Engine) Dictionary() *lexicon.Dictionary { return e.dict }

func (e *Engine) Configure(p *params.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configured = append(e.Configured, p)
	return e.ConfigureErr
}

func (e *Engine) Compile(def engine.Definition) (engine.Search, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Compiled = append(e.Compiled, def)
	if e.CompileErr != nil {
		return nil, e.CompileErr
	}
	if def.Path != "" && def.Kind != engine.StateAlign {
		if _, err := os.Stat(def.Path); err != nil {
			return nil, fmt.Errorf("mock: %w", err)
		}
	}
	return NewSearch(def), nil
}

func (e *Engine) Begin(s engine.Search) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Begun = append(e.Begun, s)
	if e.BeginErr != nil {
		return e.BeginErr
	}
	e.active = s
	e.pending, e.searched, e.ended = 0, 0, false
	return nil
}

func (e *Engine) Process(samples []int16, noSearch, fullUtt bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProcessCalls = append(e.ProcessCalls, ProcessCall{Samples: len(samples), NoSearch: noSearch, FullUtt: fullUtt})
	if e.ProcessErr != nil {
		return 0, e.ProcessErr
	}
	if e.active == nil {
		return 0, errors.New("mock: process without begin")
	}
	e.pending += len(samples) / SamplesPerFrame
	if noSearch {
		return 0, nil
	}
	n := e.pending
	e.searched += n
	e.pending = 0
	return n, nil
}

func (e *Engine) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Ends++
	if e.EndErr != nil {
		return e.EndErr
	}
	e.searched += e.pending
	e.pending = 0
	e.ended = true
	return nil
}

func (e *Engine) Hypothesis() (engine.Hypothesis, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searched == 0 || e.Result.Text == "" {
		return engine.Hypothesis{}, false
	}
	return e.Result, true
}

func (e *Engine) Segments() []engine.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searched == 0 {
		return nil
	}
	return e.Words
}

func (e *Engine) NBest(limit int) []engine.Hypothesis {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searched == 0 || e.Result.Text == "" {
		return nil
	}
	out := append([]engine.Hypothesis{e.Result}, e.Alternatives...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Alignment expands Words through the dictionary when the active search
// aligns. Before a state-level search has run, phones and states inherit
// the word durations.
func (e *Engine) Alignment() (*engine.AlignmentData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || !e.active.Kind().Aligns() {
		return nil, false
	}
	words := e.Words
	if e.active.Kind() == engine.StateAlign && e.searched == 0 {
		words = e.active.Definition().Words
	}
	if len(words) == 0 {
		return nil, false
	}
	return engine.ExpandAlignment(words, e.dict.Lookup), true
}

func (e *Engine) NFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searched
}

func (e *Engine) ResetNoiseStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NoiseResets++
}

func (e *Engine) AddWord(word, phones string, _ bool) error {
	_, err := e.dict.Add(word, phones)
	return err
}

func (e *Engine) LookupWord(word string) (string, bool) {
	return e.dict.Lookup(strings.TrimSpace(word))
}

func (e *Engine) LoadDict(path, fillerPath string) error {
	d, err := lexicon.LoadFile(path)
	if err != nil {
		return err
	}
	if fillerPath != "" {
		if _, err := lexicon.LoadFile(fillerPath); err != nil {
			return err
		}
	}
	e.dict = d
	return nil
}

func (e *Engine) SaveDict(path string) error {
	return e.dict.SaveFile(path)
}

// Active returns the search passed to the last successful Begin.
func (e *Engine) Active() engine.Search {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}
