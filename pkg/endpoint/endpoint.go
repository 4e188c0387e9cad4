// Package endpoint segments a continuous PCM stream into utterances.
//
// An [Endpointer] classifies every frame with a [vad.Classifier] and keeps the
// last N decisions in a window, where N is the window duration divided by the
// frame length. The stream enters speech when at least ratio·N frames of a
// full window are speech, and leaves it when at least ratio·N frames are
// non-speech. While in speech the endpointer hands back the input audio,
// delayed by the window so that the frames that triggered the transition are
// not lost, and flushes the buffered rest of the region when speech ends.
//
// Callers must feed frames of exactly [Endpointer.FrameSize] samples; the
// stream package reassembles arbitrary chunks into such frames. An Endpointer
// is not safe for concurrent use.
package endpoint

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// Defaults for the decision window.
const (
	DefaultWindow = 300 * time.Millisecond
	DefaultRatio  = 0.9
)

// Option configures an [Endpointer].
type Option func(*Endpointer)

// WithWindow sets the duration of audio considered for each start/end
// decision. Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(e *Endpointer) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithRatio sets the fraction of frames in the window needed to trigger a
// transition. Values outside (0, 1] keep the default.
func WithRatio(r float64) Option {
	return func(e *Endpointer) {
		if r > 0 && r <= 1 {
			e.ratio = r
		}
	}
}

// WithLogger sets the logger used for transition debug logs.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpointer) { e.log = l }
}

type entry struct {
	frame []int16
	class vad.Class
	index int64
}

// Endpointer detects speech start and end with hysteresis.
type Endpointer struct {
	cls    vad.Classifier
	window time.Duration
	ratio  float64
	log    *slog.Logger

	// ring buffer of the last n frames
	ring  []entry
	head  int
	count int
	n     int
	need  int

	frames      int64
	inSpeech    bool
	speechStart time.Duration
	speechEnd   time.Duration
	out         []int16
	// closing frames returned on the end transition
	closing []int16
}

// New returns an endpointer driven by cls. The endpointer borrows cls; the
// caller keeps ownership and closes it after the endpointer is done.
func New(cls vad.Classifier, opts ...Option) (*Endpointer, error) {
	if cls == nil {
		return nil, fmt.Errorf("endpoint: classifier must not be nil")
	}
	e := &Endpointer{
		cls:    cls,
		window: DefaultWindow,
		ratio:  DefaultRatio,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	size := cls.FrameSize()
	if size <= 0 || cls.FrameLength() <= 0 {
		return nil, fmt.Errorf("endpoint: classifier reports frame size %d and length %v", size, cls.FrameLength())
	}
	e.n = max(1, int(math.Round(float64(e.window)/float64(cls.FrameLength()))))
	e.need = max(1, int(math.Ceil(e.ratio*float64(e.n)-1e-9)))
	e.ring = make([]entry, e.n)
	for i := range e.ring {
		e.ring[i].frame = make([]int16, size)
	}
	e.out = make([]int16, size)
	return e, nil
}

// NewDefault returns an endpointer with a loose energy classifier at 16 kHz,
// 30 ms frames and the default window and ratio.
func NewDefault(opts ...Option) (*Endpointer, error) {
	cls, err := vad.New(vad.Loose, 0, 0)
	if err != nil {
		return nil, err
	}
	return New(cls, opts...)
}

// Classifier returns the classifier the endpointer borrows.
func (e *Endpointer) Classifier() vad.Classifier { return e.cls }

// FrameSize is the exact number of samples Process accepts.
func (e *Endpointer) FrameSize() int { return e.cls.FrameSize() }

// FrameLength is the duration of one frame.
func (e *Endpointer) FrameLength() time.Duration { return e.cls.FrameLength() }

// SampleRate is the sample rate frames must have.
func (e *Endpointer) SampleRate() int { return e.cls.SampleRate() }

// WindowFrames is the number of frames in the decision window.
func (e *Endpointer) WindowFrames() int { return e.n }

// InSpeech reports whether the stream is in a speech region after the last
// processed frame. Comparing it before and after Process reveals the
// transitions.
func (e *Endpointer) InSpeech() bool { return e.inSpeech }

// SpeechStart is the stream offset at which the current or last speech
// region began.
func (e *Endpointer) SpeechStart() time.Duration { return e.speechStart }

// SpeechEnd is the stream offset at which the last speech region ended.
func (e *Endpointer) SpeechEnd() time.Duration { return e.speechEnd }

func (e *Endpointer) timeOf(index int64) time.Duration {
	return time.Duration(index) * e.cls.FrameLength()
}

func (e *Endpointer) at(i int) *entry { return &e.ring[(e.head+i)%e.n] }

func (e *Endpointer) push(frame []int16, class vad.Class) {
	slot := e.at(e.count)
	copy(slot.frame, frame)
	slot.class = class
	slot.index = e.frames
	e.count++
	e.frames++
}

func (e *Endpointer) pop() *entry {
	ent := e.at(0)
	e.head = (e.head + 1) % e.n
	e.count--
	return ent
}

func (e *Endpointer) tally(class vad.Class) int {
	n := 0
	for i := range e.count {
		if e.at(i).class == class {
			n++
		}
	}
	return n
}

// Process classifies one frame and updates the speech state. While in speech
// it returns one frame of buffered input audio. On the frame that ends a
// speech region it returns the remaining buffered frames up to the speech
// end, concatenated, so every frame in [SpeechStart, SpeechEnd) is handed
// out exactly once. Otherwise it returns nil. The returned slice is only
// valid until the next call.
//
// A frame whose length differs from FrameSize fails with [vad.ErrFrameSize]
// and leaves the state untouched.
func (e *Endpointer) Process(frame []int16) ([]int16, error) {
	if err := vad.CheckFrame(frame, e.FrameSize()); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	class, err := e.cls.Classify(frame)
	if err != nil {
		return nil, fmt.Errorf("endpoint: classify: %w", err)
	}
	if class == vad.Error {
		return nil, fmt.Errorf("endpoint: classifier failed on frame %d", e.frames)
	}

	if e.count == e.n {
		// Outside speech the oldest decision falls out of the window.
		e.pop()
	}
	e.push(frame, class)

	if e.count < e.n {
		return nil, nil
	}
	if !e.inSpeech {
		if e.tally(vad.Speech) >= e.need {
			e.inSpeech = true
			e.speechStart = e.timeOf(e.at(0).index)
			e.log.Debug("endpoint: speech start", "at", e.speechStart)
		}
	} else if e.tally(vad.NotSpeech) >= e.need {
		e.inSpeech = false
		end := e.lastSpeechEnd()
		e.speechEnd = e.timeOf(end)
		e.log.Debug("endpoint: speech end", "at", e.speechEnd)
		return e.drainBefore(end), nil
	}
	if !e.inSpeech {
		return nil, nil
	}
	copy(e.out, e.pop().frame)
	return e.out, nil
}

// lastSpeechEnd returns the index of the frame following the last
// speech-classified frame in the window.
func (e *Endpointer) lastSpeechEnd() int64 {
	for i := e.count - 1; i >= 0; i-- {
		if ent := e.at(i); ent.class == vad.Speech {
			return ent.index + 1
		}
	}
	return e.at(0).index
}

// drainBefore removes the buffered frames with an index below end and
// returns them concatenated, or nil when there are none. The result is only
// valid until the next call.
func (e *Endpointer) drainBefore(end int64) []int16 {
	e.closing = e.closing[:0]
	for e.count > 0 && e.at(0).index < end {
		e.closing = append(e.closing, e.pop().frame...)
	}
	if len(e.closing) == 0 {
		return nil
	}
	return e.closing
}

// EndStream processes the tail of a stream, which may be shorter than a
// frame. If the stream is in speech, it returns all buffered audio followed
// by tail and closes the speech region at the end of the stream; otherwise
// it returns nil. The window is cleared either way.
func (e *Endpointer) EndStream(tail []int16) ([]int16, error) {
	if len(tail) > e.FrameSize() {
		return nil, fmt.Errorf("endpoint: %w: tail of %d samples exceeds frame size %d", vad.ErrFrameSize, len(tail), e.FrameSize())
	}
	defer e.clearWindow()
	if !e.inSpeech {
		return nil, nil
	}
	out := make([]int16, 0, e.count*e.FrameSize()+len(tail))
	for i := range e.count {
		out = append(out, e.at(i).frame...)
	}
	out = append(out, tail...)

	tailDur := time.Duration(len(tail)) * time.Second / time.Duration(e.SampleRate())
	e.speechEnd = e.timeOf(e.frames) + tailDur
	e.inSpeech = false
	e.log.Debug("endpoint: speech end at end of stream", "at", e.speechEnd)
	return out, nil
}

func (e *Endpointer) clearWindow() {
	e.head, e.count = 0, 0
}

// Reset returns the endpointer to its initial state, as if no audio had been
// processed. The classifier is kept.
func (e *Endpointer) Reset() {
	e.clearWindow()
	e.frames = 0
	e.inSpeech = false
	e.speechStart, e.speechEnd = 0, 0
}
