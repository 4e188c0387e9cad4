package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Opus packets on the streaming endpoint are 48 kHz, 20 ms frames.
const (
	OpusSampleRate = 48000
	opusFrameMs    = 20
	// opusMaxFrame is the per-channel sample budget of the largest legal
	// Opus packet (120 ms).
	opusMaxFrame = OpusSampleRate * 120 / 1000
)

// OpusDecoder decodes a single Opus stream into mono PCM at a target rate.
// Decoder state carries across packets, so use one decoder per stream.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
	conv     Converter
}

// NewOpusDecoder creates a decoder for a stream with the given channel count
// (1 or 2) whose output is mono 16-bit PCM at dstRate.
func NewOpusDecoder(channels, dstRate int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: opus channels must be 1 or 2, got %d", channels)
	}
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:      dec,
		channels: channels,
		conv:     Converter{Rate: dstRate},
	}, nil
}

// Decode decodes one packet. A nil packet asks the decoder to conceal one
// lost 20 ms frame.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	frameSize := opusMaxFrame
	if packet == nil {
		frameSize = OpusSampleRate * opusFrameMs / 1000
	}
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return d.conv.Convert(pcm, Format{SampleRate: OpusSampleRate, Channels: d.channels}), nil
}

// Reset clears the decoder's inter-packet state.
func (d *OpusDecoder) Reset() {
	d.dec.ResetState()
}
