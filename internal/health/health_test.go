package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ready builds a handler whose built-in inputs both pass: the registry
// reports initialized and the workflow path is a real directory.
func ready(t *testing.T, checkers ...Checker) *Handler {
	t.Helper()
	return New(func() bool { return true }, t.TempDir(), checkers...)
}

// probeReadyz serves one readiness request and decodes the response body.
func probeReadyz(t *testing.T, h *Handler) (int, readiness) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/probes/readyz", nil))

	var body readiness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode readiness body: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	ready(t).Healthz(rec, httptest.NewRequest("GET", "/probes/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
	var body liveness
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode liveness body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyz_AllInputsPass(t *testing.T) {
	h := ready(t,
		Checker{Name: "store", Check: func(_ context.Context) error { return nil }},
	)

	code, body := probeReadyz(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if !body.Ready || !body.Initialized || !body.PathValid {
		t.Errorf("body = %+v, want all inputs true", body)
	}
	if body.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", body.Checks["store"])
	}
}

func TestReadyz_NotInitialized(t *testing.T) {
	h := New(func() bool { return false }, t.TempDir())

	code, body := probeReadyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Ready || body.Initialized {
		t.Errorf("body = %+v, want ready and initialized false", body)
	}
	if !body.PathValid {
		t.Error("workflow_path_valid = false, want true")
	}
}

func TestReadyz_WorkflowPathGone(t *testing.T) {
	h := New(func() bool { return true }, "/no/such/workflow/folder")

	code, body := probeReadyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Ready || body.PathValid {
		t.Errorf("body = %+v, want ready and path_valid false", body)
	}
	if !body.Initialized {
		t.Error("fastworkflow_initialized = false, want true")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := ready(t,
		Checker{Name: "store", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "providers", Check: func(_ context.Context) error { return nil }},
	)

	code, body := probeReadyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Ready {
		t.Error("ready = true after a checker failed")
	}
	if got := body.Checks["store"]; got != "fail: connection refused" {
		t.Errorf("store check = %q, want the failure message", got)
	}
	if body.Checks["providers"] != "ok" {
		t.Errorf("providers check = %q, want ok", body.Checks["providers"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, body := probeReadyz(t, ready(t))
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if !body.Ready {
		t.Error("ready = false, want true")
	}
	if body.Checks != nil {
		t.Errorf("checks = %v, want omitted", body.Checks)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	mux := http.NewServeMux()
	ready(t).Register(mux)

	for _, path := range []string{"/probes/healthz", "/probes/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := ready(t,
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	// The check's context derives from the request context; a dead request
	// must not hang the probe.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/probes/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
