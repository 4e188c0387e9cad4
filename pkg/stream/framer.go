// Package stream drives a decoder from a continuous audio stream.
//
// Audio arrives in chunks of arbitrary length. A [Framer] cuts them into the
// fixed-size frames the endpointer needs, and a [Listener] runs each frame
// through an [endpoint.Endpointer] and starts, feeds and ends utterances on
// a [decoder.Decoder] at the speech boundaries it reports.
package stream

import "iter"

// Framer reassembles chunks of samples into frames of a fixed size,
// carrying incomplete frames over to the next chunk.
type Framer struct {
	size  int
	buf   []int16
	frame []int16
}

// NewFramer returns a framer for frames of size samples. size must be
// positive.
func NewFramer(size int) *Framer {
	if size <= 0 {
		panic("stream: frame size must be positive")
	}
	return &Framer{
		size:  size,
		buf:   make([]int16, 0, size*2),
		frame: make([]int16, size),
	}
}

// Size returns the frame size in samples.
func (f *Framer) Size() int { return f.size }

// Push appends chunk and yields every complete frame. The yielded slice is
// reused and only valid until the next iteration. Breaking out of the loop
// keeps the frames not yet yielded for the next Push.
func (f *Framer) Push(chunk []int16) iter.Seq[[]int16] {
	f.buf = append(f.buf, chunk...)
	return func(yield func([]int16) bool) {
		off := 0
		defer func() { f.buf = f.buf[:copy(f.buf, f.buf[off:])] }()
		for len(f.buf)-off >= f.size {
			copy(f.frame, f.buf[off:off+f.size])
			off += f.size
			if !yield(f.frame) {
				return
			}
		}
	}
}

// Pending returns the samples of the incomplete frame.
func (f *Framer) Pending() []int16 { return f.buf }

// Reset drops any pending samples.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
