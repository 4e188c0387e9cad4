// Package health serves the liveness and readiness probes of the
// recognition server.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz answers 200 only when every registered check passes,
//     503 otherwise.
//
// Both return {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Check probes one dependency and returns nil when it is usable.
// Implementations must honour ctx.
type Check func(ctx context.Context) error

// Router is the subset of a chi router the probes are mounted on.
type Router interface {
	Get(pattern string, h http.HandlerFunc)
}

type named struct {
	name  string
	check Check
}

// Handler evaluates readiness checks. Checks are fixed after construction,
// so a Handler is safe for concurrent use.
type Handler struct {
	checks  []named
	timeout time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheck registers a readiness check under name. Registering the same
// name twice replaces the earlier check.
func WithCheck(name string, c Check) Option {
	return func(h *Handler) {
		for i := range h.checks {
			if h.checks[i].name == name {
				h.checks[i].check = c
				return
			}
		}
		h.checks = append(h.checks, named{name: name, check: c})
	}
}

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New returns a Handler with the given checks.
func New(opts ...Option) *Handler {
	h := &Handler{timeout: DefaultTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs all checks concurrently, each under its own timeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]error, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			results[i] = c.check(ctx)
		})
	}
	wg.Wait()

	res := response{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for i, c := range h.checks {
		if err := results[i]; err != nil {
			res.Checks[c.name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.name] = "ok"
	}
	writeJSON(w, status, res)
}

// Routes mounts /healthz and /readyz on r.
func (h *Handler) Routes(r Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
