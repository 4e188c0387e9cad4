// Command sphinx decodes speech from files, standard input, or websocket
// streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/transcript/phonetic"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/engine/whisper"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
	"github.com/mmende/pocketsphinx-go/pkg/vad/silero"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltins(reg)

	if err := newRootCmd(reg).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// ── Command tree ──────────────────────────────────────────────────────────────

// cli holds the state shared by all subcommands.
type cli struct {
	reg *config.Registry

	cfgPath  string
	logLevel string

	level *slog.LevelVar
	log   *slog.Logger
}

func newRootCmd(reg *config.Registry) *cobra.Command {
	c := &cli{reg: reg, level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "sphinx",
		Short: "Speech recognition with switchable searches",
		Long: `sphinx decodes speech with grammars, language models, keyphrases and
forced alignment. It works on files (decode, align), raw audio on standard
input (listen), or as a websocket streaming server (serve).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.log = newLogger(cmd.ErrOrStderr(), c.level)
			slog.SetDefault(c.log)
			if c.logLevel != "" {
				return c.setLevel(config.LogLevel(c.logLevel))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides the config)")

	root.AddCommand(c.decodeCmd())
	root.AddCommand(c.alignCmd())
	root.AddCommand(c.listenCmd())
	root.AddCommand(c.serveCmd())
	root.AddCommand(c.fsgCmd())
	root.AddCommand(c.enginesCmd())

	return root
}

// loadConfig reads the --config file, or returns an empty configuration
// when none was given.
func (c *cli) loadConfig() (*config.Config, error) {
	if c.cfgPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", c.cfgPath)
		}
		return nil, err
	}
	if c.logLevel == "" && cfg.Server.LogLevel != "" {
		c.level.Set(slogLevel(cfg.Server.LogLevel))
	}
	return cfg, nil
}

func (c *cli) setLevel(l config.LogLevel) error {
	if !l.IsValid() {
		return fmt.Errorf("log level %q is invalid; valid values: debug, info, warn, error", l)
	}
	c.level.Set(slogLevel(l))
	return nil
}

func (c *cli) enginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the registered recognition engines",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range c.reg.Engines() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

// ── Built-in registrations ────────────────────────────────────────────────────

func registerBuiltins(reg *config.Registry) {
	// ── Engines ───────────────────────────────────────────────────────────────

	reg.RegisterEngine("whisper", func(cfg config.EngineConfig) (engine.Factory, func() error, error) {
		if cfg.Model == "" {
			return nil, nil, errors.New("whisper: engine.model is required")
		}
		b, err := whisper.LoadModel(cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		opts := []whisper.Option{
			whisper.WithLogger(slog.Default()),
			whisper.WithMatcher(phonetic.New()),
		}
		return whisper.Factory(b, opts...), b.Release, nil
	})

	// ── Voice activity classifiers ────────────────────────────────────────────

	reg.RegisterClassifier("energy", func(cfg config.EndpointerConfig, sampleRate int) (vad.Classifier, error) {
		mode, err := parseMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		return vad.New(mode, sampleRate, cfg.FrameLength)
	})

	reg.RegisterClassifier("silero", func(cfg config.EndpointerConfig, sampleRate int) (vad.Classifier, error) {
		mode, err := parseMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		return silero.New(silero.Config{
			ModelPath:  cfg.ModelPath,
			Mode:       mode,
			SampleRate: sampleRate,
		})
	})

	for _, name := range reg.Engines() {
		slog.Debug("registered engine", "name", name)
	}
}

func parseMode(s string) (vad.Mode, error) {
	if s == "" {
		return vad.Loose, nil
	}
	return vad.ParseMode(s)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
