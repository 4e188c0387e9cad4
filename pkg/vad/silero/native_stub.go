//go:build !onnx

package silero

import (
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// Classifier is unavailable in builds without the onnx tag.
type Classifier struct{}

var _ vad.Classifier = (*Classifier)(nil)

// New always fails with [ErrUnavailable].
func New(Config) (*Classifier, error) { return nil, ErrUnavailable }

func (*Classifier) Classify([]int16) (vad.Class, error) { return vad.Error, ErrUnavailable }
func (*Classifier) Reset()                              {}
func (*Classifier) FrameSize() int                      { return 0 }
func (*Classifier) SampleRate() int                     { return 0 }
func (*Classifier) FrameLength() time.Duration          { return 0 }
func (*Classifier) Close() error                        { return nil }
