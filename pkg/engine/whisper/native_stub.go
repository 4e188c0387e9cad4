//go:build !whispercpp

package whisper

import (
	"fmt"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
)

// LoadModel always fails in builds without the whispercpp tag.
func LoadModel(path string) (Backend, error) {
	return nil, fmt.Errorf("whisper: load %q: %w: rebuild with -tags whispercpp", path, engine.ErrUnavailable)
}
