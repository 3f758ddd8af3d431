package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := serve(t, New(Func("never", "down", func() bool { return false })), "/healthz")
	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", rec.Code, body)
	}
	if body.Uptime == "" {
		t.Error("uptime missing")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := Checker{Name: "pipeline", Check: func(context.Context) error { return nil }}
	fail := Checker{Name: "settings", Check: func(context.Context) error { return errors.New("db down") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []Checker{pass}, http.StatusOK, "ok"},
		{"one fails", []Checker{pass, fail}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec, body := serve(t, New(tc.checkers...), "/readyz")
			if rec.Code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", rec.Code, body.Status, tc.wantCode, tc.wantStatus)
			}
			if len(body.Checks) != len(tc.checkers) {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}

func TestReadyz_ReportsErrors(t *testing.T) {
	t.Parallel()

	_, body := serve(t, New(Func("pipeline", "not running", func() bool { return false })), "/readyz")
	got := body.Checks["pipeline"]
	if got.Status != "fail" || got.Error != "not running" {
		t.Errorf("pipeline check = %+v", got)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	slow := func(name string) Checker {
		return Checker{Name: name, Check: func(ctx context.Context) error {
			select {
			case <-time.After(150 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}
	start := time.Now()
	rec, _ := serve(t, New(slow("a"), slow("b"), slow("c")), "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("readyz took %s; checks should overlap", elapsed)
	}
}
