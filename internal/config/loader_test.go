package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/pkg/params"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  max_sessions: 8
engine:
  name: whisper
  model: /models/ggml-base.en.bin
  params:
    hmm: /models/en-us
    samprate: 16000
    kws_threshold: "1e-20"
  searches:
    - name: wake
      keyphrase: oh mighty computer
    - name: commands
      fsg: /grammars/commands.fsg
endpointer:
  mode: medium_strict
  window: 300ms
  ratio: 0.9
  frame_length: 20ms
  partials: true
  keyword_search: wake
  command_search: commands
store:
  driver: sqlite
  dsn: /var/lib/sphinx/transcripts.db
telemetry:
  service_name: sphinx
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.MaxSessions != 8 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Engine.Name != "whisper" || len(cfg.Engine.Searches) != 2 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Endpointer.Window != 300*time.Millisecond || cfg.Endpointer.FrameLength != 20*time.Millisecond {
		t.Errorf("endpointer durations = %v, %v", cfg.Endpointer.Window, cfg.Endpointer.FrameLength)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("store.driver = %q", cfg.Store.Driver)
	}

	p, err := cfg.Engine.DecoderParams()
	if err != nil {
		t.Fatalf("DecoderParams: %v", err)
	}
	if p.String("hmm") != "/models/en-us" || p.Int("samprate") != 16000 || p.Float("kws_threshold") != 1e-20 {
		t.Errorf("params hmm=%q samprate=%d kws_threshold=%g", p.String("hmm"), p.Int("samprate"), p.Float("kws_threshold"))
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if cfg.Engine.Name != "" {
		t.Errorf("engine.name = %q, want empty", cfg.Engine.Name)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("SPHINX_TEST_DSN", "postgres://sphinx:pa$$@db/sphinx")
	cfg, err := config.LoadFromReader(strings.NewReader(`
store:
  driver: postgres
  dsn: "${SPHINX_TEST_DSN}"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Store.DSN != "postgres://sphinx:pa$$@db/sphinx" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
}

func TestLoadFromReader_UnsetEnvIsEmpty(t *testing.T) {
	t.Setenv("SPHINX_TEST_UNSET", "")
	_, err := config.LoadFromReader(strings.NewReader(`
store:
  driver: postgres
  dsn: "${SPHINX_TEST_UNSET}"
`))
	if err == nil || !strings.Contains(err.Error(), "store.dsn is required") {
		t.Fatalf("err = %v, want missing dsn", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sphinx.yaml")
	writeFile(t, path, fullYAML)
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: err = %v, want ErrNotExist", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("SPHINX_MODEL_DIR", "/models")
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Model != "/models/ggml-base.en.bin" {
		t.Errorf("engine.model = %q", cfg.Engine.Model)
	}
	if cfg.Endpointer.Window != 300*time.Millisecond || cfg.Endpointer.KeywordSearch != "wake" {
		t.Errorf("endpointer = %+v", cfg.Endpointer)
	}
	p, err := cfg.Engine.DecoderParams()
	if err != nil {
		t.Fatalf("DecoderParams: %v", err)
	}
	if got := p.Float("kws_threshold"); got != 1e-20 {
		t.Errorf("kws_threshold = %g", got)
	}
}

func TestDecoderParams_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"unknown parameter", map[string]any{"hmm": "/m", "bogus": 1}},
		{"wrong type", map[string]any{"hmm": "/m", "samprate": true}},
		{"two searches", map[string]any{"hmm": "/m", "lm": "a.lm", "fsg": "b.fsg"}},
		{"bad range", map[string]any{"vad_ratio": 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.EngineConfig{Params: tt.params}.DecoderParams()
			if !errors.Is(err, params.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDecoderParams_HMMLeftToEngine(t *testing.T) {
	t.Parallel()

	ec := config.EngineConfig{Name: "whisper", Model: "/models/ggml-base.en.bin", Params: map[string]any{"lm": "a.lm"}}
	p, err := ec.DecoderParams()
	if err != nil {
		t.Fatalf("DecoderParams without hmm: %v", err)
	}
	if p.IsSet("hmm") {
		t.Error("hmm set although not configured")
	}
	if err := p.Validate(); !errors.Is(err, params.ErrInvalidConfig) {
		t.Errorf("engines that need hmm: err = %v, want ErrInvalidConfig", err)
	}
}
