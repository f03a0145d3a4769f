package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/health"
)

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, h http.HandlerFunc, path string) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "broker", Check: func(context.Context) error {
		return errors.New("down")
	}})

	code, body := probe(t, h.Healthz, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v, liveness must ignore dependency state", code, body)
	}
}

func TestReadyzReportsEachProbe(t *testing.T) {
	t.Parallel()

	t.Run("all pass", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Checker{Name: "broker", Check: func(context.Context) error { return nil }},
			health.Checker{Name: "database", Check: func(context.Context) error { return nil }},
		)
		code, body := probe(t, h.Readyz, "/readyz")
		if code != http.StatusOK || body.Status != "ok" {
			t.Fatalf("readyz = %d %+v", code, body)
		}
		if body.Checks["broker"] != "ok" || body.Checks["database"] != "ok" {
			t.Errorf("checks = %+v", body.Checks)
		}
	})

	t.Run("one fails", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Checker{Name: "broker", Check: func(context.Context) error { return nil }},
			health.Checker{Name: "database", Check: func(context.Context) error {
				return errors.New("connection refused")
			}},
		)
		code, body := probe(t, h.Readyz, "/readyz")
		if code != http.StatusServiceUnavailable || body.Status != "fail" {
			t.Fatalf("readyz = %d %+v", code, body)
		}
		if body.Checks["database"] != "fail: connection refused" {
			t.Errorf("database = %q", body.Checks["database"])
		}
		if body.Checks["broker"] != "ok" {
			t.Errorf("broker = %q, a failing peer must not taint it", body.Checks["broker"])
		}
	})

	t.Run("no probes registered", func(t *testing.T) {
		t.Parallel()
		code, body := probe(t, health.New().Readyz, "/readyz")
		if code != http.StatusOK || body.Status != "ok" {
			t.Errorf("readyz = %d %+v", code, body)
		}
	})
}

func TestReadyzProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	// Two probes that each block until the other has started would deadlock
	// under sequential evaluation.
	first := make(chan struct{})
	second := make(chan struct{})
	h := health.New(
		health.Checker{Name: "a", Check: func(ctx context.Context) error {
			close(first)
			select {
			case <-second:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		health.Checker{Name: "b", Check: func(ctx context.Context) error {
			close(second)
			select {
			case <-first:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	)

	code, body := probe(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("readyz = %d %+v, probes did not overlap", code, body)
	}
}

func TestReadyzRespectsRequestCancellation(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503 for a cancelled request", rec.Code)
	}
}

func TestRegisterMountsRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New().Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
}
