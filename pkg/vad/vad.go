// Package vad defines the frame-level voice activity classifier used by the
// endpointer.
//
// A [Classifier] labels one fixed-size frame of 16-bit PCM as speech or
// non-speech. The frame size is derived once at construction from the
// sample rate and frame length; the requested values are targets and are
// snapped to the supported ones, so callers must always size their frames
// with [Classifier.FrameSize]. A frame of any other length is rejected with
// [ErrFrameSize], never truncated or padded.
//
// Classifiers carry no smoothing across frames. Hysteresis is the job of the
// endpoint package.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// ErrFrameSize is returned when a frame does not have exactly FrameSize
// samples.
var ErrFrameSize = errors.New("vad: wrong frame size")

// ErrSampleRate is returned for sample rates too far from any supported one.
var ErrSampleRate = errors.New("vad: unsupported sample rate")

// ErrMode is returned for a Mode outside Loose..Strict.
var ErrMode = errors.New("vad: invalid mode")

// Default parameters.
const (
	DefaultSampleRate  = 16000
	DefaultFrameLength = 30 * time.Millisecond
)

// SupportedSampleRates lists the rates classifiers operate at natively.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameLengths lists the frame lengths classifiers accept.
var SupportedFrameLengths = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}

// Mode is the aggressiveness of the classifier. Stricter modes are less
// likely to label non-speech as speech.
type Mode int

const (
	Loose Mode = iota
	MediumLoose
	MediumStrict
	Strict
)

func (m Mode) String() string {
	switch m {
	case Loose:
		return "loose"
	case MediumLoose:
		return "medium_loose"
	case MediumStrict:
		return "medium_strict"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts the textual form produced by [Mode.String].
func ParseMode(s string) (Mode, error) {
	for m := Loose; m <= Strict; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("vad: unknown mode %q", s)
}

// IsValid reports whether m is one of the defined modes.
func (m Mode) IsValid() bool { return m >= Loose && m <= Strict }

// Class is the result of classifying one frame.
type Class int

const (
	// Error means the classifier failed on this frame.
	Error Class = iota - 1
	NotSpeech
	Speech
)

func (c Class) String() string {
	switch c {
	case Error:
		return "error"
	case NotSpeech:
		return "not_speech"
	case Speech:
		return "speech"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Classifier labels fixed-size PCM frames. Implementations are not required
// to be safe for concurrent use.
type Classifier interface {
	// Classify labels one frame of exactly FrameSize samples. On failure it
	// returns Error together with a non-nil error.
	Classify(frame []int16) (Class, error)

	// FrameSize is the number of samples per frame. It never changes after
	// construction.
	FrameSize() int

	// SampleRate is the realized sample rate in Hz.
	SampleRate() int

	// FrameLength is the realized duration of one frame.
	FrameLength() time.Duration

	// Close releases the classifier's resources. It is safe to call more
	// than once.
	Close() error
}

// Format is the realized input format of a classifier.
type Format struct {
	SampleRate  int
	FrameLength time.Duration
	FrameSize   int
}

// NegotiateFormat snaps a requested sample rate and frame length to the
// closest supported values. Zero values select the defaults. Rates more than
// a factor of two away from every supported rate are rejected.
func NegotiateFormat(sampleRate int, frameLength time.Duration) (Format, error) {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if frameLength == 0 {
		frameLength = DefaultFrameLength
	}
	if sampleRate < 0 || frameLength < 0 {
		return Format{}, fmt.Errorf("%w: %d Hz, %v", ErrSampleRate, sampleRate, frameLength)
	}

	rate := closest(SupportedSampleRates, sampleRate)
	if sampleRate < rate/2 || sampleRate > rate*2 {
		return Format{}, fmt.Errorf("%w: %d Hz", ErrSampleRate, sampleRate)
	}
	length := closest(SupportedFrameLengths, frameLength)
	return Format{
		SampleRate:  rate,
		FrameLength: length,
		FrameSize:   int(int64(rate) * int64(length) / int64(time.Second)),
	}, nil
}

func closest[T int | time.Duration](candidates []T, v T) T {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absDiff(c, v) < absDiff(best, v) {
			best = c
		}
	}
	return best
}

func absDiff[T int | time.Duration](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}

// CheckFrame returns ErrFrameSize unless frame has exactly size samples.
func CheckFrame(frame []int16, size int) error {
	if len(frame) != size {
		return fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(frame), size)
	}
	return nil
}
