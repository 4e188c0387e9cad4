//go:build onnx

package silero

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

var (
	initOnce sync.Once
	initErr  error
)

// Classifier runs one Silero model session. The recurrent state carries
// across frames, so a Classifier must not be shared between streams.
type Classifier struct {
	session   *ort.DynamicAdvancedSession
	state     *ort.Tensor[float32]
	format    vad.Format
	threshold float32
	once      sync.Once
}

var _ vad.Classifier = (*Classifier)(nil)

// New loads the Silero model. Frames are always 30 ms long.
func New(cfg Config) (*Classifier, error) {
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("silero: %w: %d, want 0-3", vad.ErrMode, int(cfg.Mode))
	}
	if cfg.ModelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	f, err := vad.NegotiateFormat(cfg.SampleRate, vad.DefaultFrameLength)
	if err != nil {
		return nil, err
	}
	if f.SampleRate != 8000 && f.SampleRate != 16000 {
		return nil, fmt.Errorf("%w: silero needs 8000 or 16000 Hz, got %d", vad.ErrSampleRate, f.SampleRate)
	}

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("silero: initialize onnx runtime: %w", initErr)
	}

	state, err := ort.NewTensor(ort.NewShape(2, 1, 64), make([]float32, 2*64))
	if err != nil {
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input", "state", "sr"}, []string{"output", "stateN"}, nil)
	if err != nil {
		state.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return &Classifier{
		session:   session,
		state:     state,
		format:    f,
		threshold: threshold(cfg.Mode),
	}, nil
}

// Classify runs one inference step on frame.
func (c *Classifier) Classify(frame []int16) (vad.Class, error) {
	if err := vad.CheckFrame(frame, c.format.FrameSize); err != nil {
		return vad.Error, err
	}
	prob, err := c.infer(frame)
	if err != nil {
		return vad.Error, fmt.Errorf("silero: %w", err)
	}
	if prob >= c.threshold {
		return vad.Speech, nil
	}
	return vad.NotSpeech, nil
}

func (c *Classifier) infer(frame []int16) (float32, error) {
	input := make([]float32, len(frame))
	for i, s := range frame {
		input[i] = float32(s) / 32768.0
	}
	in, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, err
	}
	defer in.Destroy()
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(c.format.SampleRate)})
	if err != nil {
		return 0, err
	}
	defer sr.Destroy()
	out, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		return 0, err
	}
	defer out.Destroy()
	next, err := ort.NewTensor(ort.NewShape(2, 1, 64), make([]float32, 2*64))
	if err != nil {
		return 0, err
	}
	defer next.Destroy()

	if err := c.session.Run([]ort.Value{in, c.state, sr}, []ort.Value{out, next}); err != nil {
		return 0, err
	}
	copy(c.state.GetData(), next.GetData())
	return out.GetData()[0], nil
}

// Reset clears the recurrent state.
func (c *Classifier) Reset() {
	clear(c.state.GetData())
}

func (c *Classifier) FrameSize() int             { return c.format.FrameSize }
func (c *Classifier) SampleRate() int            { return c.format.SampleRate }
func (c *Classifier) FrameLength() time.Duration { return c.format.FrameLength }

// Close destroys the session and its tensors.
func (c *Classifier) Close() error {
	var err error
	c.once.Do(func() {
		err = errors.Join(c.session.Destroy(), c.state.Destroy())
	})
	return err
}
