// Package health provides the HTTP liveness and readiness probes.
//
// The package exposes two endpoints:
//
//   - /probes/healthz: liveness; always returns 200 while the process serves.
//   - /probes/readyz: readiness; returns 200 only when the workflow registry
//     has loaded, the workflow path on disk is still valid, and every
//     registered [Checker] passes.
//
// The readiness body reports the individual inputs so an operator can tell a
// cold start (not yet initialized) from a broken deployment (workflow folder
// gone):
//
//	{"ready": false, "fastworkflow_initialized": true, "workflow_path_valid": false}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named dependency check evaluated on each readiness probe. The
// Check function should return nil when the dependency is healthy and a
// non-nil error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "store"). It appears as a
	// key in the checks map of the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// liveness is the JSON response body for the liveness endpoint.
type liveness struct {
	Status string `json:"status"`
}

// readiness is the JSON response body for the readiness endpoint.
type readiness struct {
	Ready       bool              `json:"ready"`
	Initialized bool              `json:"fastworkflow_initialized"`
	PathValid   bool              `json:"workflow_path_valid"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	initialized  func() bool
	workflowPath string
	checkers     []Checker
}

// New creates a [Handler]. initialized reports whether the workflow registry
// has finished loading (it flips once at startup); workflowPath is re-checked
// on disk for every readiness probe. Additional checkers run sequentially in
// the order provided and gate readiness alongside the two built-in inputs.
func New(initialized func() bool, workflowPath string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{
		initialized:  initialized,
		workflowPath: workflowPath,
		checkers:     c,
	}
}

// Healthz is the liveness probe. A running process that can serve HTTP is
// considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{Status: "ok"})
}

// Readyz is the readiness probe. It returns 200 only when the registry is
// initialized, the workflow path still points at a directory, and every
// registered [Checker] passes. Each checker gets a context with a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := readiness{
		Initialized: h.initialized == nil || h.initialized(),
		PathValid:   dirExists(h.workflowPath),
	}

	if len(h.checkers) > 0 {
		res.Checks = make(map[string]string, len(h.checkers))
	}
	checksOK := true
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			checksOK = false
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	res.Ready = res.Initialized && res.PathValid && checksOK
	status := http.StatusOK
	if !res.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /probes/healthz", h.Healthz)
	mux.HandleFunc("GET /probes/readyz", h.Readyz)
}

// dirExists reports whether path names an existing directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
