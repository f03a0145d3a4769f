// Package health serves liveness and readiness probes for the transcription
// service.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz probes
// the service's dependencies (broker, job log database, scratch storage)
// through registered [Checker] functions and answers 503 until every probe
// passes, so load balancers keep traffic away from an instance whose broker
// or database is unreachable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each dependency probe so a hung broker connection
// cannot stall the readiness endpoint.
const probeTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve the pipeline and an error describing the outage otherwise. It must
// honour context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// probeReport is the JSON body of both endpoints. Checks maps each checker
// name to "ok" or "fail: <reason>".
type probeReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates readiness probes. The checker set is fixed at
// construction; Handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given dependency probes.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, probeReport{Status: "ok"})
}

// Readyz runs every probe concurrently, each under its own [probeTimeout],
// and answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	g, ctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			outcomes[i] = c.Check(probeCtx)
			return nil
		})
	}
	g.Wait()

	report := probeReport{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			report.Checks[c.Name] = "fail: " + err.Error()
			report.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			report.Checks[c.Name] = "ok"
		}
	}

	writeReport(w, status, report)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, status int, report probeReport) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
