//go:build !whispercpp

package whisper_test

import (
	"errors"
	"testing"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/engine/whisper"
)

func TestLoadModel_Unavailable(t *testing.T) {
	t.Parallel()

	if _, err := whisper.LoadModel("/models/ggml-base.en.bin"); !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
