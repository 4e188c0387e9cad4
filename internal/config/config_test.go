package config_test

import (
	"strings"
	"testing"

	"github.com/mmende/pocketsphinx-go/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string // substrings of the joined error; nil means valid
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "negative sessions",
			yaml: "server:\n  max_sessions: -1\n",
			want: []string{"server.max_sessions"},
		},
		{
			name: "half tls",
			yaml: "server:\n  tls:\n    cert_file: a.pem\n",
			want: []string{"cert_file and key_file"},
		},
		{
			name: "search without source",
			yaml: "engine:\n  searches:\n    - name: a\n",
			want: []string{"exactly one"},
		},
		{
			name: "search with two sources",
			yaml: "engine:\n  searches:\n    - name: a\n      lm: x.lm\n      fsg: x.fsg\n",
			want: []string{"got 2"},
		},
		{
			name: "duplicate and reserved search names",
			yaml: "engine:\n  searches:\n    - name: a\n      lm: x.lm\n    - name: a\n      lm: y.lm\n    - name: _default\n      lm: z.lm\n",
			want: []string{"duplicate", "reserved"},
		},
		{
			name: "bad engine params",
			yaml: "engine:\n  params:\n    hmm: /m\n    beam: wide\n",
			want: []string{"engine.params"},
		},
		{
			name: "endpointer",
			yaml: "endpointer:\n  mode: lenient\n  ratio: 1.5\n  window: -1s\n",
			want: []string{"endpointer.mode", "endpointer.ratio", "endpointer.window"},
		},
		{
			name: "silero needs a model",
			yaml: "endpointer:\n  classifier: silero\n",
			want: []string{"model_path"},
		},
		{
			name: "switching needs both searches",
			yaml: "endpointer:\n  keyword_search: wake\n",
			want: []string{"set together", `search "wake" is not defined`},
		},
		{
			name: "trace sampling",
			yaml: "telemetry:\n  trace_sample_ratio: 2\n",
			want: []string{"telemetry.trace_sample_ratio"},
		},
		{
			name: "store",
			yaml: "store:\n  driver: mysql\n",
			want: []string{"store.driver", "store.dsn"},
		},
		{
			name: "valid switching",
			yaml: "engine:\n  searches:\n    - name: wake\n      keyphrase: hello\n    - name: cmd\n      fsg: cmd.fsg\nendpointer:\n  keyword_search: wake\n  command_search: cmd\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
