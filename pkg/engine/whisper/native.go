//go:build whispercpp

// The whisper.cpp static library (libwhisper.a) and headers (whisper.h)
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

type nativeModel struct {
	*resource.RefCount
	model whisperlib.Model
}

// LoadModel loads a ggml whisper model. The returned backend holds one
// reference; engines created with [New] add their own.
func LoadModel(path string) (Backend, error) {
	if path == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &nativeModel{RefCount: resource.NewRefCount(model.Close), model: model}, nil
}

// Transcribe runs inference in a fresh context. Contexts are not safe for
// concurrent use but the model is, so every call gets its own.
func (m *nativeModel) Transcribe(samples []float32, opts TranscribeOptions) ([]Piece, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", opts.Language, "err", err)
		}
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var pieces []Piece
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		var sum float32
		for _, tok := range seg.Tokens {
			sum += tok.P
		}
		p := Piece{Text: text, Start: seg.Start, End: seg.End, Prob: 1}
		if len(seg.Tokens) > 0 {
			p.Prob = sum / float32(len(seg.Tokens))
		}
		pieces = append(pieces, p)
	}
	return pieces, nil
}
