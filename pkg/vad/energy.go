package vad

import (
	"fmt"
	"math"
	"time"
)

// Per-mode RMS thresholds on samples normalized to [-1, 1].
var energyThresholds = [...]float64{
	Loose:        0.008,
	MediumLoose:  0.012,
	MediumStrict: 0.018,
	Strict:       0.025,
}

// Frames whose zero-crossing rate exceeds this are treated as broadband
// noise in the strict modes.
const maxSpeechZCR = 0.35

// Energy is a classifier based on frame RMS energy and zero-crossing rate.
// It needs no model files and is the default classifier of the endpointer.
type Energy struct {
	mode   Mode
	format Format
}

var _ Classifier = (*Energy)(nil)

// New returns an energy classifier for the given mode, sample rate and frame
// length. Zero rate and length select the defaults. A mode outside
// Loose..Strict fails with [ErrMode].
func New(mode Mode, sampleRate int, frameLength time.Duration) (*Energy, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %d, want 0-3", ErrMode, int(mode))
	}
	f, err := NegotiateFormat(sampleRate, frameLength)
	if err != nil {
		return nil, err
	}
	return &Energy{mode: mode, format: f}, nil
}

// Classify labels frame by comparing its RMS level with the mode threshold.
func (e *Energy) Classify(frame []int16) (Class, error) {
	if err := CheckFrame(frame, e.format.FrameSize); err != nil {
		return Error, err
	}
	if RMS(frame) < energyThresholds[e.mode] {
		return NotSpeech, nil
	}
	if e.mode >= MediumStrict && ZeroCrossingRate(frame) > maxSpeechZCR {
		return NotSpeech, nil
	}
	return Speech, nil
}

func (e *Energy) FrameSize() int             { return e.format.FrameSize }
func (e *Energy) SampleRate() int            { return e.format.SampleRate }
func (e *Energy) FrameLength() time.Duration { return e.format.FrameLength }
func (e *Energy) Mode() Mode                 { return e.mode }
func (e *Energy) Close() error               { return nil }

// RMS returns the root-mean-square level of frame normalized to [0, 1].
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ.
func ZeroCrossingRate(frame []int16) float64 {
	if len(frame) < 2 {
		return 0
	}
	n := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			n++
		}
	}
	return float64(n) / float64(len(frame)-1)
}
