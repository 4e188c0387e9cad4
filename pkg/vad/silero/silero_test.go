package silero

import (
	"errors"
	"os"
	"testing"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

func TestThreshold_Monotonic(t *testing.T) {
	t.Parallel()

	for m := vad.Loose; m < vad.Strict; m++ {
		if threshold(m) >= threshold(m+1) {
			t.Errorf("threshold(%v) = %v >= threshold(%v) = %v", m, threshold(m), m+1, threshold(m+1))
		}
	}
	if threshold(vad.Mode(42)) != threshold(vad.Loose) {
		t.Error("invalid mode does not fall back to loose")
	}
}

func TestNew_InvalidMode(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ModelPath: "silero_vad.onnx", Mode: vad.Mode(7)})
	if errors.Is(err, ErrUnavailable) {
		t.Skip("built without onnx support")
	}
	if !errors.Is(err, vad.ErrMode) {
		t.Fatalf("err = %v, want ErrMode", err)
	}
}

func TestNew_Model(t *testing.T) {
	path := os.Getenv("SILERO_MODEL_PATH")
	c, err := New(Config{ModelPath: path, Mode: vad.MediumLoose, LibraryPath: os.Getenv("ONNXRUNTIME_LIB")})
	if errors.Is(err, ErrUnavailable) {
		t.Skip("built without onnx support")
	}
	if path == "" {
		t.Skip("SILERO_MODEL_PATH not set")
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.FrameSize() != 480 {
		t.Fatalf("FrameSize() = %d, want 480", c.FrameSize())
	}
	if _, err := c.Classify(make([]int16, 10)); !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("err = %v, want ErrFrameSize", err)
	}
	got, err := c.Classify(make([]int16, c.FrameSize()))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != vad.NotSpeech {
		t.Errorf("silence classified as %v", got)
	}
}
