// Package audio converts between the PCM layouts that reach the recognizer:
// little-endian byte streams, int16 sample slices, WAV files, Opus packets,
// and arbitrary sample rates and channel counts. Recognition always runs on
// mono 16-bit PCM at the decoder's sample rate.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter turns interleaved 16-bit audio of any format into mono at Rate.
// It keeps no sample history, so chunk boundaries are interpolated
// independently. Use one per stream.
type Converter struct {
	// Rate is the output sample rate. Zero keeps the input rate.
	Rate int

	// Logger receives a one-time notice when conversion starts.
	// Defaults to slog.Default().
	Logger *slog.Logger

	noticed sync.Once
}

// Convert downmixes samples to mono, then resamples to c.Rate. Input that
// is already mono at c.Rate is returned as is.
func (c *Converter) Convert(samples []int16, from Format) []int16 {
	rate := c.Rate
	if rate == 0 {
		rate = from.SampleRate
	}
	if from.Channels <= 1 && from.SampleRate == rate {
		return samples
	}
	c.noticed.Do(func() {
		l := c.Logger
		if l == nil {
			l = slog.Default()
		}
		l.Debug("audio: converting input", "from", from, "to", Format{SampleRate: rate, Channels: 1})
	})
	return Resample(ToMono(samples, from.Channels), from.SampleRate, rate)
}

// ToMono averages interleaved channels. A trailing partial frame is
// dropped. Mono input is returned as is.
func ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		// The mean of int16 values always fits.
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation. Non-positive or equal rates return the input unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac)
	}
	return out
}
