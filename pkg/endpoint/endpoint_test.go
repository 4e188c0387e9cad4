package endpoint

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// scripted labels a frame as speech when its first sample is 1. The second
// sample carries the frame's position in the stream.
type scripted struct{ size int }

func (s *scripted) Classify(frame []int16) (vad.Class, error) {
	if err := vad.CheckFrame(frame, s.size); err != nil {
		return vad.Error, err
	}
	if frame[0] == 1 {
		return vad.Speech, nil
	}
	return vad.NotSpeech, nil
}
func (s *scripted) FrameSize() int             { return s.size }
func (s *scripted) SampleRate() int            { return 16000 }
func (s *scripted) FrameLength() time.Duration { return 30 * time.Millisecond }
func (s *scripted) Close() error               { return nil }

func frame(speech bool, index int) []int16 {
	f := make([]int16, 480)
	if speech {
		f[0] = 1
	}
	f[1] = int16(index)
	return f
}

func newScripted(t *testing.T, opts ...Option) *Endpointer {
	t.Helper()
	e, err := New(&scripted{size: 480}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_Window(t *testing.T) {
	t.Parallel()

	e := newScripted(t)
	if e.WindowFrames() != 10 {
		t.Fatalf("WindowFrames() = %d, want 10", e.WindowFrames())
	}
	if e.need != 9 {
		t.Fatalf("need = %d, want 9", e.need)
	}
	e = newScripted(t, WithWindow(90*time.Millisecond), WithRatio(0.5))
	if e.WindowFrames() != 3 || e.need != 2 {
		t.Fatalf("window %d need %d, want 3 and 2", e.WindowFrames(), e.need)
	}
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) succeeded")
	}
}

func TestProcess_FrameSizeInvariant(t *testing.T) {
	t.Parallel()

	e := newScripted(t)
	for _, n := range []int{0, 479, 481, 960} {
		out, err := e.Process(make([]int16, n))
		if !errors.Is(err, vad.ErrFrameSize) || out != nil {
			t.Fatalf("Process(%d samples) = %v, %v; want nil, ErrFrameSize", n, out, err)
		}
	}
	if e.frames != 0 || e.count != 0 {
		t.Fatal("rejected frame changed the window")
	}
	if e.FrameSize() != 480 {
		t.Fatalf("FrameSize() = %d", e.FrameSize())
	}
}

func TestProcess_Hysteresis(t *testing.T) {
	t.Parallel()

	e := newScripted(t)
	idx := 0
	feed := func(speech bool) []int16 {
		t.Helper()
		out, err := e.Process(frame(speech, idx))
		if err != nil {
			t.Fatalf("Process(frame %d): %v", idx, err)
		}
		idx++
		return out
	}

	for range 10 {
		if out := feed(false); out != nil || e.InSpeech() {
			t.Fatalf("frame %d: speech during silence", idx-1)
		}
	}
	// Speech starts at frame 10; the window reaches 9 of 10 speech frames
	// with frame 18 and not before.
	for i := 10; i < 18; i++ {
		if out := feed(true); out != nil || e.InSpeech() {
			t.Fatalf("frame %d: transitioned early", i)
		}
	}
	out := feed(true)
	if !e.InSpeech() || out == nil {
		t.Fatal("frame 18: no transition to speech")
	}
	if out[1] != 9 {
		t.Errorf("first emitted frame = %d, want 9 (start of triggering window)", out[1])
	}
	if got, want := e.SpeechStart(), 270*time.Millisecond; got != want {
		t.Errorf("SpeechStart() = %v, want %v", got, want)
	}

	// Speech continues through frame 29; each frame releases the next
	// buffered one in order.
	for i := 19; i < 30; i++ {
		out := feed(true)
		if out == nil || int(out[1]) != i-9 {
			t.Fatalf("frame %d: emitted %v, want frame %d", i, out, i-9)
		}
	}
	for i := 30; i < 38; i++ {
		if out := feed(false); out == nil || !e.InSpeech() {
			t.Fatalf("frame %d: left speech early", i)
		}
	}
	// Frame 38 ends the region at frame 30 and flushes frame 29, the last
	// one still buffered before the end.
	out = feed(false)
	if e.InSpeech() {
		t.Fatal("frame 38: still in speech")
	}
	if len(out) != 480 || out[1] != 29 {
		t.Fatalf("frame 38: flushed %d samples, want frame 29", len(out))
	}
	if got, want := e.SpeechEnd(), 900*time.Millisecond; got != want {
		t.Errorf("SpeechEnd() = %v, want %v", got, want)
	}
	if out := feed(false); out != nil {
		t.Fatal("audio emitted after speech end")
	}
}

// emitted splits endpointer output back into the stream positions of its
// frames.
func emitted(out []int16) []int {
	var idx []int
	for f := range slices.Chunk(out, 480) {
		idx = append(idx, int(f[1]))
	}
	return idx
}

func TestProcess_EmitsWholeRegion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      []Option
		wantStart time.Duration
	}{
		{"defaults", nil, 270 * time.Millisecond},
		{"loose ratio", []Option{WithRatio(0.5)}, 150 * time.Millisecond},
		{"short window", []Option{WithWindow(90 * time.Millisecond), WithRatio(0.6)}, 270 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newScripted(t, tt.opts...)

			// Silence 0..9, speech 10..29, silence 30..59.
			var got []int
			for i := range 60 {
				out, err := e.Process(frame(i >= 10 && i < 30, i))
				if err != nil {
					t.Fatalf("Process(frame %d): %v", i, err)
				}
				got = append(got, emitted(out)...)
			}
			if e.InSpeech() {
				t.Fatal("still in speech after 30 silent frames")
			}
			if e.SpeechStart() != tt.wantStart || e.SpeechEnd() != 900*time.Millisecond {
				t.Fatalf("region = %v..%v, want %v..900ms", e.SpeechStart(), e.SpeechEnd(), tt.wantStart)
			}

			first := int(tt.wantStart / (30 * time.Millisecond))
			var want []int
			for i := first; i < 30; i++ {
				want = append(want, i)
			}
			if !slices.Equal(got, want) {
				t.Errorf("emitted frames %v, want %v", got, want)
			}
		})
	}
}

func TestProcess_Deterministic(t *testing.T) {
	t.Parallel()

	transitionAt := func() int {
		e := newScripted(t, WithWindow(150*time.Millisecond), WithRatio(0.6))
		for i := range 50 {
			if _, err := e.Process(frame(i%5 != 0, i)); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if e.InSpeech() {
				return i
			}
		}
		return -1
	}
	first := transitionAt()
	if first < 0 {
		t.Fatal("never entered speech")
	}
	for range 5 {
		if got := transitionAt(); got != first {
			t.Fatalf("transition at %d, previously %d", got, first)
		}
	}
}

func TestEndStream(t *testing.T) {
	t.Parallel()

	e := newScripted(t)
	if out, err := e.EndStream(make([]int16, 100)); err != nil || out != nil {
		t.Fatalf("EndStream outside speech = %v, %v", out, err)
	}
	if _, err := e.EndStream(make([]int16, 481)); !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("oversized tail: err = %v, want ErrFrameSize", err)
	}

	for i := range 12 {
		if _, err := e.Process(frame(true, i)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if !e.InSpeech() {
		t.Fatal("not in speech after 12 speech frames")
	}
	buffered := e.count
	out, err := e.EndStream(make([]int16, 160))
	if err != nil {
		t.Fatalf("EndStream: %v", err)
	}
	if want := buffered*480 + 160; len(out) != want {
		t.Fatalf("len(out) = %d, want %d", len(out), want)
	}
	if e.InSpeech() {
		t.Error("still in speech after EndStream")
	}
	if got, want := e.SpeechEnd(), 12*30*time.Millisecond+10*time.Millisecond; got != want {
		t.Errorf("SpeechEnd() = %v, want %v", got, want)
	}
	if e.count != 0 {
		t.Error("window not cleared")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	e := newScripted(t)
	for i := range 12 {
		_, _ = e.Process(frame(true, i))
	}
	e.Reset()
	if e.InSpeech() || e.SpeechStart() != 0 || e.frames != 0 {
		t.Fatal("Reset left state behind")
	}
}

func TestNewDefault(t *testing.T) {
	t.Parallel()

	e, err := NewDefault()
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	if e.FrameSize() != 480 || e.SampleRate() != 16000 || e.FrameLength() != 30*time.Millisecond {
		t.Fatalf("defaults: size %d rate %d length %v", e.FrameSize(), e.SampleRate(), e.FrameLength())
	}
	silence := make([]int16, e.FrameSize())
	for range 20 {
		if out, err := e.Process(silence); err != nil || out != nil {
			t.Fatalf("silence: %v, %v", out, err)
		}
	}
}
