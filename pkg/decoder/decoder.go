// Package decoder manages a speech decoding session on top of an
// [engine.Engine].
//
// A Decoder keeps a registry of named searches (grammars, language models,
// keyword sets, phone loops and alignments), selects the active one, and
// drives utterances through the Idle, Active and Ended states:
//
//	dec.StartUtt()          // Idle or Ended -> Active
//	dec.ProcessRaw(pcm, ..) // Active only
//	dec.EndUtt()            // Active -> Ended
//	hyp, ok := dec.Hypothesis()
//
// A Decoder is not safe for concurrent use. Callers that share one across
// goroutines must serialise access.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

// Reserved search names.
const (
	// DefaultSearch is added at construction when the parameters select a
	// search.
	DefaultSearch = "_default"

	// AlignSearch is the word-level forced alignment set by SetAlignText.
	AlignSearch = "_align"

	// StateAlignSearch is the state-level alignment set by SetAlignment.
	StateAlignSearch = "_state_align"
)

// Hypothesis and Segment are the engine's result types.
type (
	Hypothesis = engine.Hypothesis
	Segment    = engine.Segment
)

// UttState is the lifecycle state of the current utterance.
type UttState int

const (
	Idle UttState = iota
	Active
	Ended
)

func (s UttState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("UttState(%d)", int(s))
	}
}

// Performance accumulates decoding cost.
type Performance struct {
	// Speech is the duration of the audio passed to the engine.
	Speech time.Duration
	// Wall is the time spent inside engine calls.
	Wall time.Duration
}

// RealTimeFactor returns Wall / Speech, or 0 when no audio was processed.
func (p Performance) RealTimeFactor() float64 {
	if p.Speech <= 0 {
		return 0
	}
	return p.Wall.Seconds() / p.Speech.Seconds()
}

func (p *Performance) add(speech, wall time.Duration) {
	p.Speech += speech
	p.Wall += wall
}

// Observer receives decoder lifecycle events. Implementations must not call
// back into the Decoder.
type Observer interface {
	SearchActivated(name string, kind engine.Kind)
	UtteranceStarted(search string, kind engine.Kind)
	UtteranceEnded(search string, kind engine.Kind, frames int, perf Performance, hypothesis bool)
}

type nopObserver struct{}

func (nopObserver) SearchActivated(string, engine.Kind)                        {}
func (nopObserver) UtteranceStarted(string, engine.Kind)                       {}
func (nopObserver) UtteranceEnded(string, engine.Kind, int, Performance, bool) {}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// WithObserver registers an observer for utterance and search events.
func WithObserver(o Observer) Option {
	return func(d *Decoder) { d.obs = o }
}

// Decoder is a speech decoding session.
type Decoder struct {
	eng    *resource.Handle[engine.Engine]
	params *params.Params
	log    *slog.Logger
	obs    Observer

	searches map[string]*resource.Handle[engine.Search]
	active   string

	state UttState
	// utt keeps the search of the running utterance alive independently of
	// the registry.
	utt       *resource.Handle[engine.Search]
	uttSearch string
	broken    bool
	lastWords []Segment

	uttPerf Performance
	allPerf Performance

	closed bool
}

// New creates a decoder over eng configured with p. The decoder takes over
// the caller's reference to eng and releases it on Close, or immediately when
// construction fails.
//
// If p sets one of the search-selecting parameters (lm, jsgf, fsg, kws,
// keyphrase, allphone) a search named [DefaultSearch] is added and activated.
func New(eng engine.Engine, p *params.Params, opts ...Option) (*Decoder, error) {
	if p == nil {
		p = params.New()
	}
	if err := p.Validate(engine.Waived(eng)...); err != nil {
		if eng != nil {
			_ = eng.Release()
		}
		return nil, fmt.Errorf("decoder: new: %w", err)
	}
	h, err := resource.New(eng, nil)
	if err != nil {
		return nil, fmt.Errorf("decoder: new: %w", err)
	}
	d := &Decoder{
		eng:      h,
		log:      slog.Default(),
		obs:      nopObserver{},
		searches: make(map[string]*resource.Handle[engine.Search]),
	}
	for _, o := range opts {
		o(d)
	}
	if err := d.configure(p.Clone()); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("decoder: new: %w", err)
	}
	return d, nil
}

func (d *Decoder) configure(p *params.Params) error {
	if err := d.eng.Get().Configure(p); err != nil {
		return fmt.Errorf("%w: configure engine: %w", ErrInitialization, err)
	}
	d.params = p

	key, value, ok := p.Search()
	if !ok {
		return nil
	}
	var err error
	switch key {
	case "lm":
		err = d.AddLMFile(DefaultSearch, value)
	case "jsgf":
		err = d.AddJSGFFile(DefaultSearch, value)
	case "fsg":
		err = d.AddFSGFile(DefaultSearch, value)
	case "kws":
		err = d.AddKeywordFile(DefaultSearch, value)
	case "keyphrase":
		err = d.AddKeyphrase(DefaultSearch, value)
	case "allphone":
		err = d.AddPhoneLoopFile(DefaultSearch, value)
	}
	if err != nil {
		return err
	}
	return d.ActivateSearch(DefaultSearch)
}

// Params returns a copy of the parameters the decoder was configured with.
func (d *Decoder) Params() *params.Params { return d.params.Clone() }

// Engine returns a borrowed handle on the engine. It must not be used after
// the decoder is closed.
func (d *Decoder) Engine() *resource.Handle[engine.Engine] {
	return resource.Borrow(d.eng.Get())
}

// State returns the utterance state.
func (d *Decoder) State() UttState { return d.state }

// Reinit reconfigures the engine with p, or with the current parameters
// when p is nil. All searches are released and any running utterance is
// abandoned; the default search is recreated from p.
func (d *Decoder) Reinit(p *params.Params) error {
	if d.closed {
		return fmt.Errorf("decoder: reinit: %w", ErrUsage)
	}
	if p == nil {
		p = d.params
	}
	if err := p.Validate(engine.Waived(d.eng.Get())...); err != nil {
		return fmt.Errorf("decoder: reinit: %w", err)
	}
	d.abandon("reinit")
	errs := []error{d.releaseUtt(), d.releaseSearches()}
	d.lastWords = nil
	d.state = Idle
	if err := d.configure(p.Clone()); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("decoder: reinit: %w", err)
	}
	return nil
}

// Close releases every search and the engine. It is safe to call more than
// once; later calls return nil.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	errs := []error{d.releaseUtt(), d.releaseSearches(), d.eng.Close()}
	d.state = Idle
	d.lastWords = nil
	return errors.Join(errs...)
}

func (d *Decoder) releaseSearches() error {
	var errs []error
	for name, h := range d.searches {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release search %q: %w", name, err))
		}
	}
	clear(d.searches)
	d.active = ""
	return errors.Join(errs...)
}
