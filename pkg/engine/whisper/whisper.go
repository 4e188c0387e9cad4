// Package whisper implements [engine.Engine] on top of whisper.cpp.
//
// Whisper transcribes freely, so the search kinds are emulated on top of the
// transcript:
//
//	LanguageModel  the transcript itself; the model path is not used
//	Grammar        the FSG sentence closest to the transcript, prompted
//	               with the grammar's vocabulary; JSGF is compiled to an
//	               FSG from the toprule or the first public rule
//	KeywordSet     the keyphrases spotted in the transcript
//	ForceAlign     the alignment text, timed over the detected speech
//	StateAlign     the word segmentation of the previous pass
//
// Phone loops are not supported. Word and state timings
// are spread evenly over the speech whisper reports and are estimates.
//
// The native backend needs the whisper.cpp static library and is only
// compiled with the whispercpp build tag; see [LoadModel].
package whisper

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmende/pocketsphinx-go/internal/transcript/phonetic"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/fsg"
	"github.com/mmende/pocketsphinx-go/pkg/lexicon"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

// SampleRate is the only sample rate whisper accepts.
const SampleRate = 16000

const (
	// maxSentences bounds the sentences enumerated from a grammar.
	maxSentences = 500
	maxWords     = 24
	// partialInterval is the minimum amount of new audio before a partial
	// hypothesis is recomputed.
	partialInterval = time.Second

	spotScorePerDecade = 0.005
	minSpotScore       = 0.5
)

// Piece is one transcribed segment.
type Piece struct {
	Text  string
	Start time.Duration
	End   time.Duration
	// Prob is the mean token probability.
	Prob float32
}

// TranscribeOptions are per-call transcription settings.
type TranscribeOptions struct {
	Language string
	// Prompt biases decoding towards the given words.
	Prompt string
}

// Backend is a loaded speech-to-text model shared by engines.
type Backend interface {
	resource.Resource
	Transcribe(samples []float32, opts TranscribeOptions) ([]Piece, error)
}

type search struct {
	*resource.RefCount
	def       engine.Definition
	sentences []string
	phrases   []string
	// minScores holds the phonetic score each phrase must reach.
	minScores []float64
	prompt    string
}

func (s *search) Kind() engine.Kind             { return s.def.Kind }
func (s *search) Definition() engine.Definition { return s.def }

// Engine is a whisper backed recognition engine. Each decoder needs its own
// Engine; engines share the Backend.
type Engine struct {
	*resource.RefCount

	backend Backend
	matcher *phonetic.Matcher
	log     *slog.Logger

	mu        sync.Mutex
	language  string
	topRule   string
	frameRate int
	dict      *lexicon.Dictionary

	active   *search
	buf      []float32
	pending  int
	searched int
	ended    bool

	decodedLen int
	result     result
}

type result struct {
	hyp    engine.Hypothesis
	ok     bool
	words  []engine.Segment
	nbest  []engine.Hypothesis
	pieces []Piece
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Waiver = (*Engine)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMatcher replaces the phonetic matcher used to snap transcripts onto
// grammar sentences and keyphrases.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// New returns an engine over b holding one reference. It retains b and
// releases it when the engine is freed.
func New(b Backend, opts ...Option) *Engine {
	b.Retain()
	e := &Engine{
		backend:   b,
		matcher:   phonetic.New(),
		log:       slog.Default(),
		language:  "en",
		frameRate: engine.FrameRate,
		dict:      lexicon.New(),
	}
	e.RefCount = resource.NewRefCount(b.Release)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Factory returns an engine.Factory creating engines over b.
func Factory(b Backend, opts ...Option) engine.Factory {
	return func(*params.Params) (engine.Engine, error) {
		return New(b, opts...), nil
	}
}

// WaivedParams reports hmm as unused; whisper has no separate acoustic
// model.
func (e *Engine) WaivedParams() []string { return []string{"hmm"} }

func (e *Engine) Configure(p *params.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rate := p.Int("samprate"); rate != SampleRate {
		return fmt.Errorf("whisper: sample rate %d not supported, need %d", rate, SampleRate)
	}
	if fr := p.Int("frate"); fr > 0 {
		e.frameRate = int(fr)
	}
	e.language = p.String("language")
	e.topRule = p.String("toprule")
	if p.IsSet("dict") {
		d, err := lexicon.LoadFile(p.String("dict"))
		if err != nil {
			return fmt.Errorf("whisper: %w", err)
		}
		e.dict = d
	}
	e.active = nil
	e.reset()
	return nil
}

func (e *Engine) Compile(def engine.Definition) (engine.Search, error) {
	s := &search{RefCount: resource.NewRefCount(nil), def: def}
	switch def.Kind {
	case engine.LanguageModel:
		if def.Path != "" {
			if _, err := os.Stat(def.Path); err != nil {
				return nil, fmt.Errorf("whisper: %w", err)
			}
		}
	case engine.Grammar:
		g := def.Grammar
		if def.JSGF {
			var err error
			if g, err = e.compileJSGF(def); err != nil {
				return nil, err
			}
		}
		if g == nil {
			return nil, fmt.Errorf("whisper: grammar search without a grammar")
		}
		s.sentences = g.Sentences(maxSentences, maxWords)
		if len(s.sentences) == 0 {
			return nil, fmt.Errorf("whisper: grammar %q accepts no sentence of at most %d words", g.Name, maxWords)
		}
		s.prompt = strings.Join(g.Vocabulary(), " ")
	case engine.KeywordSet:
		for _, kw := range def.Keywords {
			s.phrases = append(s.phrases, kw.Phrase)
			s.minScores = append(s.minScores, e.spotScore(kw.Threshold))
		}
		if len(def.Keywords) == 0 {
			for line := range strings.Lines(def.Text) {
				if line = strings.TrimSpace(line); line != "" {
					s.phrases = append(s.phrases, line)
				}
			}
		}
		if len(s.phrases) == 0 {
			return nil, fmt.Errorf("whisper: keyword search without phrases")
		}
		s.prompt = strings.Join(s.phrases, ", ")
	case engine.ForceAlign:
		s.sentences = []string{def.Text}
		s.prompt = def.Text
	case engine.StateAlign:
		if len(def.Words) == 0 {
			return nil, fmt.Errorf("whisper: state alignment without words")
		}
	default:
		return nil, fmt.Errorf("whisper: %s search: %w", def.Kind, engine.ErrUnsupported)
	}
	return s, nil
}

// spotScore maps a keyphrase threshold onto the phonetic score a spotted
// phrase needs. The default threshold 1 keeps the matcher's spot threshold;
// each decade above or below moves it by spotScorePerDecade, within
// [minSpotScore, 1].
func (e *Engine) spotScore(threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	s := e.matcher.SpotThreshold() + spotScorePerDecade*math.Log10(threshold)
	return min(max(s, minSpotScore), 1)
}

func (e *Engine) compileJSGF(def engine.Definition) (*fsg.Grammar, error) {
	e.mu.Lock()
	top := e.topRule
	e.mu.Unlock()

	var (
		j   *fsg.JSGF
		err error
	)
	if def.Text != "" {
		j, err = fsg.ParseJSGF(def.Text)
	} else {
		j, err = fsg.ParseJSGFFile(def.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	g, err := j.Compile(top)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	e.log.Debug("whisper: jsgf compiled", "grammar", g.Name, "states", g.NumStates, "transitions", len(g.Transitions))
	return g, nil
}

func (e *Engine) Begin(s engine.Search) error {
	ws, ok := s.(*search)
	if !ok {
		return fmt.Errorf("whisper: search %T was not compiled by this engine", s)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = ws
	e.reset()
	return nil
}

func (e *Engine) reset() {
	e.buf = e.buf[:0]
	e.pending, e.searched = 0, 0
	e.ended = false
	e.decodedLen = -1
	e.result = result{}
}

func (e *Engine) samplesPerFrame() int { return SampleRate / e.frameRate }

func (e *Engine) Process(samples []int16, noSearch, _ bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return 0, fmt.Errorf("whisper: process without an utterance")
	}
	before := len(e.buf) / e.samplesPerFrame()
	for _, s := range samples {
		e.buf = append(e.buf, float32(s)/32768)
	}
	e.pending += len(e.buf)/e.samplesPerFrame() - before
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
	if e.active == nil {
		return fmt.Errorf("whisper: end without an utterance")
	}
	e.searched += e.pending
	e.pending = 0
	e.ended = true
	return e.decode(true)
}

// decode transcribes the searched audio when it changed since the last run.
// Partial results are only refreshed every partialInterval of new audio.
func (e *Engine) decode(force bool) error {
	n := min(e.searched*e.samplesPerFrame(), len(e.buf))
	if n == e.decodedLen {
		return nil
	}
	step := int(partialInterval.Seconds() * SampleRate)
	if !force && e.decodedLen >= 0 && n-e.decodedLen < step {
		return nil
	}
	e.decodedLen = n
	if n == 0 {
		e.result = result{}
		return nil
	}
	if e.active.def.Kind == engine.StateAlign {
		e.result = e.stateAlign()
		return nil
	}

	start := time.Now()
	pieces, err := e.backend.Transcribe(e.buf[:n], TranscribeOptions{Language: e.language, Prompt: e.active.prompt})
	if err != nil {
		return fmt.Errorf("whisper: transcribe: %w", err)
	}
	e.result = e.interpret(pieces, n/e.samplesPerFrame())
	e.log.Debug("whisper: transcribed",
		"kind", e.active.def.Kind,
		"samples", n,
		"took", time.Since(start),
		"text", e.result.hyp.Text,
	)
	return nil
}

func (e *Engine) interpret(pieces []Piece, frames int) result {
	r := result{pieces: pieces}
	var parts []string
	var logp float64
	for _, p := range pieces {
		parts = append(parts, p.Text)
		logp += math.Log(max(float64(p.Prob), 1e-6))
	}
	text := strings.Join(parts, " ")
	words := phonetic.Words(text)
	first, last := e.span(pieces, frames)
	score := int32(math.Round(logp * 1000))

	s := e.active
	switch s.def.Kind {
	case engine.LanguageModel:
		if len(words) == 0 {
			return r
		}
		r.hyp = engine.Hypothesis{Text: strings.Join(words, " "), Score: score}
		r.words = spread(words, first, last)
		r.nbest = []engine.Hypothesis{r.hyp}

	case engine.Grammar, engine.ForceAlign:
		ranked := e.matcher.Rank(text, s.sentences)
		best, ok := e.matcher.Match(text, s.sentences)
		if s.def.Kind == engine.ForceAlign && len(words) > 0 {
			best, ok = ranked[0], true
		}
		if !ok {
			return r
		}
		r.hyp = engine.Hypothesis{Text: best.Text, Score: score, Prob: logProb(best.Score)}
		r.words = spread(strings.Fields(best.Text), first, last)
		for _, c := range ranked {
			r.nbest = append(r.nbest, engine.Hypothesis{Text: c.Text, Score: score, Prob: logProb(c.Score)})
		}

	case engine.KeywordSet:
		hits := e.matcher.SpotEach(text, s.phrases, s.minScores)
		if len(hits) == 0 {
			return r
		}
		all := spread(words, first, last)
		var found []string
		for _, h := range hits {
			found = append(found, h.Phrase)
			r.words = append(r.words, engine.Segment{
				Word:  h.Phrase,
				Start: all[h.Word].Start,
				End:   all[h.Word+h.Words-1].End,
				Prob:  logProb(h.Score),
			})
		}
		r.hyp = engine.Hypothesis{Text: strings.Join(found, " "), Score: score, Prob: logProb(hits[0].Score)}
		r.nbest = []engine.Hypothesis{r.hyp}
	}
	r.ok = r.hyp.Text != ""
	return r
}

func (e *Engine) stateAlign() result {
	words := slices.Clone(e.active.def.Words)
	var text []string
	for _, w := range words {
		if !isFiller(w.Word) {
			text = append(text, w.Word)
		}
	}
	hyp := engine.Hypothesis{Text: strings.Join(text, " ")}
	return result{hyp: hyp, ok: hyp.Text != "", words: words, nbest: []engine.Hypothesis{hyp}}
}

// span returns the first and last frame of detected speech.
func (e *Engine) span(pieces []Piece, frames int) (int, int) {
	last := max(frames-1, 0)
	if len(pieces) == 0 {
		return 0, last
	}
	toFrame := func(d time.Duration) int { return int(d * time.Duration(e.frameRate) / time.Second) }
	first := min(toFrame(pieces[0].Start), last)
	end := min(max(toFrame(pieces[len(pieces)-1].End)-1, first), last)
	return first, end
}

// spread assigns consecutive, evenly sized frame ranges to words between
// first and last inclusive.
func spread(words []string, first, last int) []engine.Segment {
	if len(words) == 0 {
		return nil
	}
	total := last - first + 1
	segs := make([]engine.Segment, len(words))
	start := first
	for i, w := range words {
		n := total / len(words)
		if i < total%len(words) {
			n++
		}
		segs[i] = engine.Segment{Word: w, Start: start, End: start + max(n, 1) - 1}
		start += n
	}
	return segs
}

func logProb(p float64) int32 {
	return int32(math.Round(math.Log(max(p, 1e-6)) * 1000))
}

func isFiller(w string) bool {
	return strings.HasPrefix(w, "<") && strings.HasSuffix(w, ">") || strings.HasPrefix(w, "[")
}

func (e *Engine) Hypothesis() (engine.Hypothesis, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.refresh() {
		return engine.Hypothesis{}, false
	}
	return e.result.hyp, e.result.ok
}

// refresh recomputes a partial result. It reports false when the
// transcription failed.
func (e *Engine) refresh() bool {
	if e.active == nil {
		return false
	}
	if err := e.decode(e.ended); err != nil {
		e.log.Warn("whisper: partial decode failed", "err", err)
		return false
	}
	return true
}

func (e *Engine) Segments() []engine.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.refresh() {
		return nil
	}
	return slices.Clone(e.result.words)
}

func (e *Engine) NBest(limit int) []engine.Hypothesis {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.refresh() || !e.result.ok {
		return nil
	}
	out := slices.Clone(e.result.nbest)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) Alignment() (*engine.AlignmentData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || !e.active.def.Kind.Aligns() || !e.refresh() || len(e.result.words) == 0 {
		return nil, false
	}
	return engine.ExpandAlignment(e.result.words, e.dict.Lookup), true
}

func (e *Engine) NFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searched
}

// ResetNoiseStats is a no-op; whisper keeps no state across utterances.
func (e *Engine) ResetNoiseStats() {}

func (e *Engine) AddWord(word, phones string, _ bool) error {
	if _, err := e.dict.Add(word, phones); err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	return nil
}

func (e *Engine) LookupWord(word string) (string, bool) {
	return e.dict.Lookup(word)
}

func (e *Engine) LoadDict(path, fillerPath string) error {
	d, err := lexicon.LoadFile(path)
	if err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	if fillerPath != "" {
		f, err := lexicon.LoadFile(fillerPath)
		if err != nil {
			return fmt.Errorf("whisper: %w", err)
		}
		for w := range f.Words() {
			for _, p := range f.Pronunciations(w) {
				if _, err := d.Add(w, p); err != nil {
					return fmt.Errorf("whisper: %w", err)
				}
			}
		}
	}
	e.mu.Lock()
	e.dict = d
	e.mu.Unlock()
	return nil
}

func (e *Engine) SaveDict(path string) error {
	if err := e.dict.SaveFile(path); err != nil {
		return fmt.Errorf("whisper: %w", err)
	}
	return nil
}
