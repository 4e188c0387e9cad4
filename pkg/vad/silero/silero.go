// Package silero provides a [vad.Classifier] backed by the Silero VAD ONNX
// model through ONNX Runtime.
//
// The real implementation is compiled only with the "onnx" build tag, which
// requires the ONNX Runtime shared library at run time. Without the tag,
// [New] returns [ErrUnavailable].
package silero

import (
	"errors"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// ErrUnavailable is returned by [New] in builds without ONNX Runtime support.
var ErrUnavailable = errors.New("silero: built without onnx support")

// Speech probability thresholds per mode.
var thresholds = [...]float32{
	vad.Loose:        0.3,
	vad.MediumLoose:  0.45,
	vad.MediumStrict: 0.6,
	vad.Strict:       0.75,
}

// Config selects the model and runtime for [New].
type Config struct {
	// ModelPath is the path to silero_vad.onnx.
	ModelPath string

	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath string

	Mode vad.Mode

	// SampleRate must snap to 8000 or 16000; Silero supports nothing else.
	SampleRate int
}

func threshold(m vad.Mode) float32 {
	if !m.IsValid() {
		m = vad.Loose
	}
	return thresholds[m]
}
