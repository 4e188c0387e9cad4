// Package server exposes streaming recognition over HTTP.
//
// Routes:
//
//	GET /v1/listen     websocket; binary audio in, JSON events out
//	GET /v1/sessions   running sessions
//	GET /healthz       liveness
//	GET /readyz        readiness
//	GET /metrics       Prometheus scrape endpoint (path configurable)
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/health"
	"github.com/mmende/pocketsphinx-go/internal/observe"
)

// Sessions opens and lists streaming sessions. [*app.SessionManager]
// implements it.
type Sessions interface {
	Open(ctx context.Context, opts app.SessionOptions) (*app.Session, error)
	Sessions() []app.SessionInfo
}

// Server routes HTTP requests to the session manager.
type Server struct {
	sessions    Sessions
	health      *health.Handler
	metrics     *observe.Metrics
	metricsPath string
	scrape      http.Handler
	log         *slog.Logger

	readLimit     int64
	shutdownGrace time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts h at /healthz and /readyz. Without it both probes
// answer ok unconditionally.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithScrapeHandler serves h at path. An empty path means /metrics.
func WithScrapeHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
		s.scrape = h
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithReadLimit caps the size of one websocket message. Default: 1 MiB.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// New returns a server over sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions:      sessions,
		metricsPath:   "/metrics",
		log:           slog.Default(),
		readLimit:     1 << 20,
		shutdownGrace: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(s.metrics, s.log))

	s.health.Routes(r)
	if s.scrape != nil {
		r.Method(http.MethodGet, s.metricsPath, s.scrape)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/listen", s.listen)
		r.Get("/sessions", s.listSessions)
	})
	return r
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.sessions.Sessions()
	out := make([]sessionJSON, len(infos))
	for i, in := range infos {
		out[i] = sessionJSON{
			ID:        in.ID.String(),
			Remote:    in.Remote,
			StartedAt: in.StartedAt,
			Search:    in.Search,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// With tls set the server speaks HTTPS.
func (s *Server) Run(ctx context.Context, addr string, tls *config.TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", addr, "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
