package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// ValidEngineNames lists the engine implementations shipped with sphinx.
// Used by [Validate] to warn about unrecognised names.
var ValidEngineNames = []string{"whisper", "mock"}

// ValidClassifierNames lists the built-in voice activity classifiers.
var ValidClassifierNames = []string{"energy", "silero"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// References of the form ${VAR} are replaced with the environment variable
// VAR before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} with the value of VAR. A bare $ is kept so DSNs
// and passwords containing it survive.
func expandEnv(data []byte) []byte {
	s := string(data)
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		b.WriteString(os.Getenv(s[i+2 : i+j]))
		s = s[i+j+1:]
	}
	b.WriteString(s)
	return []byte(b.String())
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Engine
	warnUnknown("engine", cfg.Engine.Name, ValidEngineNames)
	if len(cfg.Engine.Params) > 0 {
		if _, err := cfg.Engine.DecoderParams(); err != nil {
			errs = append(errs, fmt.Errorf("engine.params: %w", err))
		}
	}
	names := make(map[string]int, len(cfg.Engine.Searches))
	for i, s := range cfg.Engine.Searches {
		prefix := fmt.Sprintf("engine.searches[%d]", i)
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		case strings.HasPrefix(s.Name, "_"):
			errs = append(errs, fmt.Errorf("%s.name %q is reserved; names starting with _ are used internally", prefix, s.Name))
		default:
			if prev, ok := names[s.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of engine.searches[%d]", prefix, s.Name, prev))
			}
			names[s.Name] = i
		}
		if n := len(s.sources()); n != 1 {
			errs = append(errs, fmt.Errorf("%s needs exactly one of fsg, jsgf, lm, kws, keyphrase, allphone; got %d", prefix, n))
		}
	}

	// Endpointer
	ep := cfg.Endpointer
	warnUnknown("classifier", ep.Classifier, ValidClassifierNames)
	if ep.Mode != "" {
		if _, err := vad.ParseMode(ep.Mode); err != nil {
			errs = append(errs, fmt.Errorf("endpointer.mode %q is invalid; valid values: loose, medium_loose, medium_strict, strict", ep.Mode))
		}
	}
	if ep.Window < 0 {
		errs = append(errs, fmt.Errorf("endpointer.window %v must not be negative", ep.Window))
	}
	if ep.Ratio < 0 || ep.Ratio > 1 {
		errs = append(errs, fmt.Errorf("endpointer.ratio %.2f is out of range [0, 1]", ep.Ratio))
	}
	if ep.Classifier == "silero" && ep.ModelPath == "" {
		errs = append(errs, errors.New("endpointer.model_path is required for the silero classifier"))
	}
	if (ep.KeywordSearch == "") != (ep.CommandSearch == "") {
		errs = append(errs, errors.New("endpointer.keyword_search and endpointer.command_search must be set together"))
	}
	for _, name := range []string{ep.KeywordSearch, ep.CommandSearch} {
		if _, ok := names[name]; name != "" && !ok {
			errs = append(errs, fmt.Errorf("endpointer: search %q is not defined in engine.searches", name))
		}
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: postgres, sqlite", cfg.Store.Driver))
	}
	if cfg.Store.Driver != "" && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required when store.driver is %q", cfg.Store.Driver))
	}
	if cfg.Store.Driver == "" && cfg.Engine.Name != "" {
		slog.Warn("store.driver is empty; final transcripts will not be persisted")
	}

	return errors.Join(errs...)
}

// DecoderParams converts the params map into decoder parameters and
// validates them. Required parameters are checked when the decoder is
// built, since whether they are needed depends on the engine.
func (e EngineConfig) DecoderParams() (*params.Params, error) {
	p := params.New()
	var errs []error
	for _, k := range slices.Sorted(maps.Keys(e.Params)) {
		if err := p.Set(k, e.Params[k]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, p.Validate(params.Required()...))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// warnUnknown logs a warning if name is non-empty and not in known.
func warnUnknown(kind, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
