// Package health serves the liveness and readiness probes.
//
//   - GET /healthz answers 200 while the process can serve HTTP, with uptime.
//   - GET /readyz answers 200 only when every registered [Checker] passes,
//     503 otherwise. Checkers run concurrently, each under [CheckTimeout].
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckTimeout bounds a single readiness check.
const CheckTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Func adapts a boolean condition into a [Checker] that fails with reason
// while cond reports false.
func Func(name, reason string, cond func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !cond() {
			return statusError(reason)
		}
		return nil
	}}
}

type statusError string

func (e statusError) Error() string { return string(e) }

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type response struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// Readyz reports readiness.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]checkResult, len(h.checkers))
		ok     = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status, res.Error = "fail", err.Error()
			}
			mu.Lock()
			checks[c.Name] = res
			ok = ok && err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := response{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		resp.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
