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

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func ready(t *testing.T, h *Handler) (int, readinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp readinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return rec.Code, resp
}

func TestReadyStatus(t *testing.T) {
	cases := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{"no deps", nil, http.StatusOK, "ok"},
		{"all up", []Dependency{{Name: "postgres", Pinger: up}, {Name: "redis", Pinger: up, Optional: true}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Pinger: up}, {Name: "redis", Pinger: down, Optional: true}}, http.StatusOK, "degraded"},
		{"required down", []Dependency{{Name: "postgres", Pinger: down}, {Name: "redis", Pinger: up, Optional: true}}, http.StatusServiceUnavailable, "down"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			code, resp := ready(t, NewHandler(time.Now(), ":8080", "postgres", tc.deps...))
			if code != tc.code || resp.Status != tc.status {
				t.Fatalf("got %d %q, want %d %q", code, resp.Status, tc.code, tc.status)
			}
			if len(resp.Dependencies) != len(tc.deps) {
				t.Fatalf("dependencies = %+v", resp.Dependencies)
			}
		})
	}
}

func TestReadyReportsPingError(t *testing.T) {
	_, resp := ready(t, NewHandler(time.Now(), ":8080", "postgres", Dependency{Name: "postgres", Pinger: down}))
	if st := resp.Dependencies["postgres"]; st.Reachable || st.Error != "connection refused" {
		t.Fatalf("postgres = %+v", st)
	}
}

func TestFullIncludesRuntime(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(time.Now().Add(-time.Minute), ":8080", "memory").Full(rec, httptest.NewRequest(http.MethodGet, "/health/full", nil))
	var resp fullResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || resp.App.LedgerDriver != "memory" || resp.Runtime.Goroutines == 0 || resp.UptimeSec < 60 {
		t.Fatalf("resp = %+v", resp)
	}
}
