// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every [Checker] concurrently and answers 503 when a critical one
// fails. Optional checkers only degrade the reported status. Both return
// {"status": "ok"|"degraded"|"fail", "checks": {name: "ok"|"warn: ..."|"fail: ..."}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/cuecard/internal/resilience"
)

// Probe status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional checks report "warn" and leave the service ready.
	Optional bool
}

// Report is the probe response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Ready reports whether no critical check failed.
func (r Report) Ready() bool { return r.Status != StatusFail }

// Handler evaluates a fixed set of checkers. Concurrent /readyz requests
// share one evaluation.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	group    singleflight.Group
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New returns a handler for checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: StatusOK})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Evaluate runs all checkers and folds their results into a [Report].
// Callers that arrive while an evaluation is running get its result.
func (h *Handler) Evaluate(ctx context.Context) Report {
	v, _, _ := h.group.Do("readyz", func() (any, error) {
		// Detached so one caller hanging up does not fail the others.
		return h.evaluate(context.WithoutCancel(ctx)), nil
	})
	return v.(Report)
}

func (h *Handler) evaluate(ctx context.Context) Report {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			errs[i] = c.Check(cctx)
		})
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		switch err := errs[i]; {
		case err == nil:
			rep.Checks[c.Name] = StatusOK
		case c.Optional:
			rep.Checks[c.Name] = "warn: " + err.Error()
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		default:
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = StatusFail
		}
	}
	return rep
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// ErrLLMNotConfigured is reported by [LLMConfigured].
var ErrLLMNotConfigured = errors.New("llm provider not configured")

// LLMConfigured fails while the analysis backend has no provider.
func LLMConfigured(configured func() bool) Checker {
	return Checker{
		Name: "llm",
		Check: func(context.Context) error {
			if configured() {
				return nil
			}
			return ErrLLMNotConfigured
		},
	}
}

// Pinger is a dependency that can verify its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database is a critical check that p answers a ping.
func Database(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Breaker reports an open breaker as a warning. While the analysis backend
// is unreachable the copilot still serves fallback advice.
func Breaker(cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name:     "breaker/" + cb.Name(),
		Optional: true,
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		},
	}
}
