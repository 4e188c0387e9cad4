package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/pkg/audio"
	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/params"
)

// engineFlags are the flags shared by the commands that build decoders.
// They override the engine section of the configuration file.
type engineFlags struct {
	name   string
	model  string
	params []string
	search string
}

func (f *engineFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.name, "engine", "e", "", "registered engine name (default: from config, else whisper)")
	fs.StringVarP(&f.model, "model", "m", "", "engine model file")
	fs.StringArrayVarP(&f.params, "param", "p", nil, "decoder parameter as name=value (repeatable), e.g. -p hmm=model/en-us -p lm=en-us.lm.bin")
	fs.StringVarP(&f.search, "search", "s", "", "configured search to activate")
}

// apply merges the flags into cfg.Engine.
func (f *engineFlags) apply(cfg *config.Config) error {
	ec := &cfg.Engine
	if f.name != "" {
		ec.Name = f.name
	}
	if ec.Name == "" {
		ec.Name = "whisper"
	}
	if f.model != "" {
		ec.Model = f.model
	}
	if len(f.params) == 0 {
		return nil
	}
	if ec.Params == nil {
		ec.Params = make(map[string]any, len(f.params))
	}
	for _, kv := range f.params {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("--param %q: want name=value", kv)
		}
		if _, known := params.Lookup(name); !known {
			return fmt.Errorf("--param %q: unknown parameter %q", kv, name)
		}
		// A search key on the command line replaces the one from the file.
		if slices.Contains(params.SearchKeys, name) {
			for _, k := range params.SearchKeys {
				delete(ec.Params, k)
			}
		}
		ec.Params[name] = value
	}
	return nil
}

// recognizer opens decoders for one engine configuration.
type recognizer struct {
	cfg     config.EngineConfig
	factory engine.Factory
	release func() error
	params  *params.Params
}

func openRecognizer(reg *config.Registry, cfg config.EngineConfig) (*recognizer, error) {
	p, err := cfg.DecoderParams()
	if err != nil {
		return nil, err
	}
	factory, release, err := reg.OpenEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("open engine %q: %w", cfg.Name, err)
	}
	return &recognizer{cfg: cfg, factory: factory, release: release, params: p}, nil
}

// sampleRate is the rate the decoder expects audio at.
func (r *recognizer) sampleRate() int { return int(r.params.Int("samprate")) }

func (r *recognizer) frameRate() int { return int(r.params.Int("frate")) }

// newDecoder creates a decoder with every configured search registered and
// search activated, if set.
func (r *recognizer) newDecoder(search string, opts ...decoder.Option) (*decoder.Decoder, error) {
	eng, err := r.factory(r.params.Clone())
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	dec, err := decoder.New(eng, r.params, opts...)
	if err != nil {
		return nil, err
	}
	for _, sc := range r.cfg.Searches {
		if err := app.AddSearch(dec, sc); err != nil {
			return nil, errors.Join(err, dec.Close())
		}
	}
	if search == "" {
		if _, err := dec.CurrentSearch(); err == nil || len(r.cfg.Searches) == 0 {
			return dec, nil
		}
		search = r.cfg.Searches[0].Name
	}
	if err := dec.ActivateSearch(search); err != nil {
		return nil, errors.Join(err, dec.Close())
	}
	return dec, nil
}

func (r *recognizer) Close() error {
	if r.release == nil {
		return nil
	}
	return r.release()
}

// readAudio loads a WAV file resampled to rate, or headerless 16-bit
// little-endian mono PCM at rate for any other extension.
func readAudio(path string, rate int) ([]int16, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		samples, _, err := audio.ReadWAVFile(path, rate)
		return samples, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return audio.BytesToInt16(data)
}
