package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddLength is returned when 16-bit PCM bytes have an odd length.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM")

// BytesToInt16 decodes little-endian 16-bit PCM.
func BytesToInt16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
