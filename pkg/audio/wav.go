package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWAV is returned for input that is not a RIFF/WAVE PCM stream.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

// ReadWAVFile reads a WAV file and returns mono 16-bit samples at dstRate.
// A dstRate of zero keeps the file's rate.
func ReadWAVFile(path string, dstRate int) ([]int16, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: read %q: %w", path, err)
	}
	return ReadWAV(bytes.NewReader(data), dstRate)
}

// ReadWAV parses a RIFF/WAVE stream with 16-bit PCM data, downmixes stereo to
// mono and resamples to dstRate. The returned Format describes the source.
func ReadWAV(r io.Reader, dstRate int) ([]int16, Format, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		src     Format
		bits    uint16
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))
		switch id {
		case "fmt ":
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil || size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(buf[0:2]); tag != 1 && tag != 0xFFFE {
				return nil, Format{}, fmt.Errorf("%w: format tag %#x", ErrNotWAV, tag)
			}
			src.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			src.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			bits = binary.LittleEndian.Uint16(buf[14:16])
			haveFmt = true
		case "data":
			if !haveFmt || bits != 16 || src.Channels < 1 || src.Channels > 2 {
				return nil, Format{}, fmt.Errorf("%w: %d-bit %d-channel", ErrNotWAV, bits, src.Channels)
			}
			pcm := make([]byte, size)
			n, err := io.ReadFull(r, pcm)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, Format{}, fmt.Errorf("audio: read wav data: %w", err)
			}
			samples, err := BytesToInt16(pcm[:n-n%2])
			if err != nil {
				return nil, Format{}, err
			}
			conv := Converter{Rate: dstRate}
			return conv.Convert(samples, src), src, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
			}
		}
	}
}

// WriteWAV writes mono 16-bit samples as a WAV stream.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	data := Int16ToBytes(samples)
	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(data)))
	copy(hdr[8:16], "WAVEfmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(hdr[32:34], 2)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
