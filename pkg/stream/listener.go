package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/endpoint"
)

// EventType identifies a listener event.
type EventType int

const (
	// SpeechStart is emitted when the endpointer enters speech and an
	// utterance was started.
	SpeechStart EventType = iota
	// Partial carries a changed hypothesis of the running utterance.
	Partial
	// Final carries the hypothesis of a finished utterance. It is emitted
	// even when nothing was recognised, with an empty Text.
	Final
	// SpeechEnd is emitted after Final when the endpointer leaves speech.
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case Partial:
		return "partial"
	case Final:
		return "final"
	case SpeechEnd:
		return "speech_end"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a listener event. Start and End are offsets from stream start.
type Event struct {
	Type   EventType
	Search string
	Start  time.Duration
	End    time.Duration
	// Hypothesis is set for Partial and Final.
	Hypothesis decoder.Hypothesis
	// Recognized reports whether Hypothesis holds a result.
	Recognized bool
	// Words is the word segmentation, set for Final.
	Words []decoder.Segment
}

// Switcher picks the search for the next utterance after a Final event.
// It returns the empty string to keep the current search.
type Switcher func(ev Event) string

// KeyphraseSwitch returns a Switcher that activates commands after the
// keyword search recognises its phrase, and returns to keyword after one
// utterance decoded with commands.
func KeyphraseSwitch(keyword, commands string) Switcher {
	return func(ev Event) string {
		switch ev.Search {
		case keyword:
			if ev.Recognized {
				return commands
			}
		case commands:
			return keyword
		}
		return ""
	}
}

// Option configures a Listener.
type Option func(*Listener)

// WithPartials enables Partial events.
func WithPartials(on bool) Option {
	return func(l *Listener) { l.partials = on }
}

// WithSwitcher sets the search switching policy.
func WithSwitcher(s Switcher) Option {
	return func(l *Listener) { l.switcher = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(lg *slog.Logger) Option {
	return func(l *Listener) { l.log = lg }
}

// Listener segments a stream into utterances and decodes them. It borrows
// the endpointer and decoder; the caller closes them. A Listener is not safe
// for concurrent use.
type Listener struct {
	ep     *endpoint.Endpointer
	dec    *decoder.Decoder
	framer *Framer

	partials bool
	switcher Switcher
	log      *slog.Logger

	search      string
	lastPartial string
	events      []Event
}

// NewListener returns a listener over ep and dec.
func NewListener(ep *endpoint.Endpointer, dec *decoder.Decoder, opts ...Option) *Listener {
	l := &Listener{
		ep:     ep,
		dec:    dec,
		framer: NewFramer(ep.FrameSize()),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Process consumes a chunk of mono samples at the endpointer's sample rate
// and returns the events it produced, in order.
func (l *Listener) Process(chunk []int16) ([]Event, error) {
	l.events = l.events[:0]
	for frame := range l.framer.Push(chunk) {
		if err := l.frame(frame); err != nil {
			return l.flush(), err
		}
	}
	return l.flush(), nil
}

// Finish ends the stream. Pending samples are handed to the endpointer and
// a running utterance is finalized. The listener can be reused afterwards
// for a new stream.
func (l *Listener) Finish() ([]Event, error) {
	l.events = l.events[:0]
	wasInSpeech := l.ep.InSpeech()
	tail, err := l.ep.EndStream(l.framer.Pending())
	l.framer.Reset()
	if err != nil {
		return l.flush(), fmt.Errorf("stream: end stream: %w", err)
	}
	if wasInSpeech {
		if len(tail) > 0 {
			if _, err := l.dec.ProcessRaw(tail, false, false); err != nil {
				return l.flush(), fmt.Errorf("stream: decode tail: %w", err)
			}
		}
		if err := l.endUtterance(); err != nil {
			return l.flush(), err
		}
	}
	return l.flush(), nil
}

func (l *Listener) flush() []Event {
	if len(l.events) == 0 {
		return nil
	}
	return slices.Clone(l.events)
}

func (l *Listener) frame(frame []int16) error {
	wasInSpeech := l.ep.InSpeech()
	out, err := l.ep.Process(frame)
	if err != nil {
		return fmt.Errorf("stream: endpoint: %w", err)
	}
	inSpeech := l.ep.InSpeech()

	if !wasInSpeech && inSpeech {
		if err := l.dec.StartUtt(); err != nil {
			return fmt.Errorf("stream: start utterance: %w", err)
		}
		l.search, _ = l.dec.CurrentSearch()
		l.lastPartial = ""
		l.events = append(l.events, Event{Type: SpeechStart, Search: l.search, Start: l.ep.SpeechStart()})
	}
	if out != nil {
		if _, err := l.dec.ProcessRaw(out, false, false); err != nil {
			return fmt.Errorf("stream: decode: %w", err)
		}
		l.partial()
	}
	if wasInSpeech && !inSpeech {
		return l.endUtterance()
	}
	return nil
}

func (l *Listener) partial() {
	if !l.partials {
		return
	}
	hyp, ok := l.dec.Hypothesis()
	if !ok || hyp.Text == l.lastPartial {
		return
	}
	l.lastPartial = hyp.Text
	l.events = append(l.events, Event{
		Type:       Partial,
		Search:     l.search,
		Start:      l.ep.SpeechStart(),
		Hypothesis: hyp,
		Recognized: true,
	})
}

func (l *Listener) endUtterance() error {
	if err := l.dec.EndUtt(); err != nil {
		return fmt.Errorf("stream: end utterance: %w", err)
	}
	hyp, ok := l.dec.Hypothesis()
	final := Event{
		Type:       Final,
		Search:     l.search,
		Start:      l.ep.SpeechStart(),
		End:        l.ep.SpeechEnd(),
		Hypothesis: hyp,
		Recognized: ok,
		Words:      slices.Collect(l.dec.Segments()),
	}
	l.events = append(l.events,
		final,
		Event{Type: SpeechEnd, Search: l.search, Start: final.Start, End: final.End},
	)
	l.log.Debug("stream: utterance decoded", "search", l.search, "text", hyp.Text, "start", final.Start, "end", final.End)

	if l.switcher == nil {
		return nil
	}
	next := l.switcher(final)
	if next == "" || next == l.search {
		return nil
	}
	if err := l.dec.ActivateSearch(next); err != nil {
		if errors.Is(err, decoder.ErrSearchNotFound) {
			l.log.Warn("stream: switch to unknown search", "search", next)
			return nil
		}
		return fmt.Errorf("stream: switch search: %w", err)
	}
	l.log.Info("stream: switched search", "from", l.search, "to", next)
	return nil
}

// InSpeech reports whether the listener is inside an utterance.
func (l *Listener) InSpeech() bool { return l.ep.InSpeech() }
