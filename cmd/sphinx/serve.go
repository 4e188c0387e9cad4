package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/health"
	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func (c *cli) serveCmd() *cobra.Command {
	var (
		ef     engineFlags
		listen string
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket streaming recognition server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfgPath == "" {
				c.cfgPath = "config.yaml"
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := ef.apply(cfg); err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}
			if cfg.Server.ListenAddr == "" {
				cfg.Server.ListenAddr = ":8080"
			}
			ctx := cmd.Context()

			c.log.Info("sphinx starting",
				"config", c.cfgPath,
				"listen_addr", cfg.Server.ListenAddr,
				"engine", cfg.Engine.Name,
			)

			// ── Telemetry ─────────────────────────────────────────────────────
			prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: version,
				SampleRatio:    cfg.Telemetry.TraceSampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := shutdownContext(cmd)
				defer cancel()
				if err := prov.Shutdown(shutdownCtx); err != nil {
					c.log.Warn("telemetry shutdown", "err", err)
				}
			}()
			metrics, err := observe.NewMetrics(otel.GetMeterProvider())
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			// ── Application ───────────────────────────────────────────────────
			a, err := app.New(ctx, cfg, c.reg, app.WithMetrics(metrics), app.WithLogger(c.log))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := shutdownContext(cmd)
				defer cancel()
				if err := a.Shutdown(shutdownCtx); err != nil {
					c.log.Error("shutdown error", "err", err)
				}
			}()

			// ── Hot reload ────────────────────────────────────────────────────
			if watch {
				w, err := config.NewWatcher(c.cfgPath, func(old, new *config.Config) {
					diff := config.Diff(old, new)
					if diff.LogLevelChanged && c.logLevel == "" {
						c.level.Set(slogLevel(diff.NewLogLevel))
						c.log.Info("log level changed", "level", diff.NewLogLevel)
					}
					a.Apply(new, diff)
				}, config.WithWatcherLogger(c.log))
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			// ── Server ────────────────────────────────────────────────────────
			metricsPath := cfg.Telemetry.MetricsPath
			if metricsPath == "" {
				metricsPath = "/metrics"
			}
			srv := server.New(a.Sessions(),
				server.WithHealth(health.New(a.HealthChecks()...)),
				server.WithScrapeHandler(metricsPath, prov.MetricsHandler),
				server.WithMetrics(metrics),
				server.WithLogger(c.log),
			)

			printStartupSummary(cmd.OutOrStdout(), cfg, metricsPath)
			c.log.Info("server ready; press Ctrl+C to shut down")

			if err := srv.Run(ctx, cfg.Server.ListenAddr, cfg.Server.TLS); err != nil {
				return err
			}
			c.log.Info("shutdown signal received, stopping")
			return nil
		},
	}
	ef.bind(cmd)
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload log level and endpointer settings when the config file changes")
	return cmd
}

// shutdownContext outlives the cancelled command context.
func shutdownContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(cmd.Context()), 15*time.Second)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, metricsPath string) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         sphinx · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printField(w, "Engine", cfg.Engine.Name, cfg.Engine.Model)
	printField(w, "Searches", fmt.Sprint(len(cfg.Engine.Searches)), "")
	printField(w, "Classifier", orDefault(cfg.Endpointer.Classifier, "energy"), cfg.Endpointer.Mode)
	if cfg.Endpointer.KeywordSearch != "" {
		printField(w, "Switching", cfg.Endpointer.KeywordSearch+" > "+cfg.Endpointer.CommandSearch, "")
	}
	printField(w, "Store", string(cfg.Store.Driver), "")
	if cfg.Server.MaxSessions > 0 {
		printField(w, "Max sessions", fmt.Sprint(cfg.Server.MaxSessions), "")
	} else {
		printField(w, "Max sessions", "unlimited", "")
	}
	printField(w, "Listen addr", cfg.Server.ListenAddr, "")
	printField(w, "Metrics", metricsPath, "")
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printField(w io.Writer, label, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
