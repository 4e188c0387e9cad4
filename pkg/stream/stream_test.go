package stream_test

import (
	"slices"
	"testing"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/endpoint"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/engine/mock"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/stream"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

const frameSize = 480

// marker labels a frame as speech when its first sample is 1.
type marker struct{}

func (marker) Classify(frame []int16) (vad.Class, error) {
	if err := vad.CheckFrame(frame, frameSize); err != nil {
		return vad.Error, err
	}
	if frame[0] == 1 {
		return vad.Speech, nil
	}
	return vad.NotSpeech, nil
}
func (marker) FrameSize() int             { return frameSize }
func (marker) SampleRate() int            { return 16000 }
func (marker) FrameLength() time.Duration { return 30 * time.Millisecond }
func (marker) Close() error               { return nil }

// audio builds a stream from runs of frames: silence, speech, silence, ...
func audio(runs ...int) []int16 {
	var out []int16
	for i, n := range runs {
		for range n {
			f := make([]int16, frameSize)
			if i%2 == 1 {
				f[0] = 1
			}
			out = append(out, f...)
		}
	}
	return out
}

type fixture struct {
	eng *mock.Engine
	dec *decoder.Decoder
	ep  *endpoint.Endpointer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := params.New()
	if err := p.Set("hmm", "/models/en-us"); err != nil {
		t.Fatal(err)
	}
	eng := mock.New()
	eng.Result = engine.Hypothesis{Text: "oh mighty computer"}
	dec, err := decoder.New(eng, p)
	if err != nil {
		t.Fatalf("decoder.New: %v", err)
	}
	t.Cleanup(func() { _ = dec.Close() })
	if err := dec.AddKeyphrase("keyword", "oh mighty computer"); err != nil {
		t.Fatal(err)
	}
	if err := dec.AddJSGFString("commands", "#JSGF V1.0; grammar commands;"); err != nil {
		t.Fatal(err)
	}
	if err := dec.ActivateSearch("keyword"); err != nil {
		t.Fatal(err)
	}
	ep, err := endpoint.New(marker{})
	if err != nil {
		t.Fatalf("endpoint.New: %v", err)
	}
	return &fixture{eng: eng, dec: dec, ep: ep}
}

// feed pushes samples in chunks that do not line up with frames.
func feed(t *testing.T, l *stream.Listener, samples []int16) []stream.Event {
	t.Helper()
	var events []stream.Event
	for chunk := range slices.Chunk(samples, 1000) {
		ev, err := l.Process(chunk)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		events = append(events, ev...)
	}
	return events
}

func types(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestFramer(t *testing.T) {
	t.Parallel()

	f := stream.NewFramer(4)
	var got [][]int16
	for frame := range f.Push([]int16{1, 2, 3}) {
		got = append(got, slices.Clone(frame))
	}
	if len(got) != 0 || len(f.Pending()) != 3 {
		t.Fatalf("short chunk: %d frames, %d pending", len(got), len(f.Pending()))
	}
	for frame := range f.Push([]int16{4, 5, 6, 7, 8, 9, 10}) {
		got = append(got, slices.Clone(frame))
	}
	want := [][]int16{{1, 2, 3, 4}, {5, 6, 7, 8}}
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	if !slices.Equal(f.Pending(), []int16{9, 10}) {
		t.Fatalf("Pending() = %v", f.Pending())
	}

	// Stopping early keeps the rest.
	for range f.Push([]int16{11, 12, 13, 14, 15, 16}) {
		break
	}
	if !slices.Equal(f.Pending(), []int16{13, 14, 15, 16}) {
		t.Fatalf("Pending() after break = %v", f.Pending())
	}
	f.Reset()
	if len(f.Pending()) != 0 {
		t.Fatal("Reset kept samples")
	}
}

func TestListener_Utterance(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	l := stream.NewListener(fx.ep, fx.dec)
	events := feed(t, l, audio(10, 30, 20))

	want := []stream.EventType{stream.SpeechStart, stream.Final, stream.SpeechEnd}
	if got := types(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	start, final := events[0], events[1]
	if start.Start != 270*time.Millisecond || start.Search != "keyword" {
		t.Errorf("speech start = %+v", start)
	}
	if final.Start != 270*time.Millisecond || final.End != 1200*time.Millisecond {
		t.Errorf("final span = %v..%v, want 270ms..1.2s", final.Start, final.End)
	}
	if !final.Recognized || final.Hypothesis.Text != "oh mighty computer" {
		t.Errorf("final = %+v", final)
	}
	// Frames 9..39, the whole region from 270ms to 1.2s, reach the decoder:
	// one call per frame while in speech, then the closing frame.
	samples := 0
	for _, c := range fx.eng.ProcessCalls {
		samples += c.Samples
	}
	if n := len(fx.eng.ProcessCalls); n != 31 || samples != 31*frameSize {
		t.Errorf("ProcessRaw calls = %d with %d samples, want 31 with %d", n, samples, 31*frameSize)
	}
	if fx.dec.State() != decoder.Ended {
		t.Errorf("decoder state = %v, want ended", fx.dec.State())
	}
	if ev, err := l.Finish(); err != nil || len(ev) != 0 {
		t.Errorf("Finish() = %v, %v, want no events", ev, err)
	}
}

func TestListener_Partials(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	l := stream.NewListener(fx.ep, fx.dec, stream.WithPartials(true))
	events := feed(t, l, audio(10, 30, 20))

	want := []stream.EventType{stream.SpeechStart, stream.Partial, stream.Final, stream.SpeechEnd}
	if got := types(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestListener_FinishInSpeech(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	l := stream.NewListener(fx.ep, fx.dec)
	samples := audio(10, 30)
	samples = append(samples, make([]int16, 100)...)
	events := feed(t, l, samples)
	if got := types(events); !slices.Equal(got, []stream.EventType{stream.SpeechStart}) {
		t.Fatalf("events before Finish = %v", got)
	}

	events, err := l.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := types(events); !slices.Equal(got, []stream.EventType{stream.Final, stream.SpeechEnd}) {
		t.Fatalf("events = %v", got)
	}
	// 40 frames of 30 ms plus 100 samples at 16 kHz.
	if want := 1200*time.Millisecond + 6250*time.Microsecond; events[0].End != want {
		t.Errorf("end = %v, want %v", events[0].End, want)
	}
	if l.InSpeech() {
		t.Error("still in speech after Finish")
	}
}

func TestListener_KeyphraseSwitch(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	l := stream.NewListener(fx.ep, fx.dec, stream.WithSwitcher(stream.KeyphraseSwitch("keyword", "commands")))

	feed(t, l, audio(10, 30, 20))
	if name, _ := fx.dec.CurrentSearch(); name != "commands" {
		t.Fatalf("after keyphrase: search = %q, want commands", name)
	}

	events := feed(t, l, audio(0, 30, 20))
	if events[0].Search != "commands" {
		t.Errorf("second utterance search = %q, want commands", events[0].Search)
	}
	if name, _ := fx.dec.CurrentSearch(); name != "keyword" {
		t.Fatalf("after command: search = %q, want keyword", name)
	}
}

func TestKeyphraseSwitch(t *testing.T) {
	t.Parallel()

	sw := stream.KeyphraseSwitch("kw", "cmd")
	tests := []struct {
		ev   stream.Event
		want string
	}{
		{stream.Event{Search: "kw", Recognized: true}, "cmd"},
		{stream.Event{Search: "kw"}, ""},
		{stream.Event{Search: "cmd"}, "kw"},
		{stream.Event{Search: "other", Recognized: true}, ""},
	}
	for _, tt := range tests {
		if got := sw(tt.ev); got != tt.want {
			t.Errorf("switch(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
