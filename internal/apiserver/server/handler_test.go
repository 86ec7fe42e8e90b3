package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
	"github.com/gilkh/livret-sub003/internal/sandbox"
	"github.com/gilkh/livret-sub003/internal/shared/storage/memstore"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

func newTestHandler(t *testing.T, sandboxFlag string) *Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := memstore.NewStore("memory://livret_sandbox", "livret_sandbox")
	return NewHandler(Deps{
		Guard:      sandbox.NewGuard(sandboxFlag, "", store),
		Auth:       auth.Config{JWTSecret: "test-secret"},
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logging.Discard(),
	})
}

func TestHealth(t *testing.T) {
	tests := []struct {
		flag string
		mode string
	}{
		{"true", "sandbox"},
		{"", "main"},
	}
	for _, tt := range tests {
		h := newTestHandler(t, tt.flag)
		rec := httptest.NewRecorder()
		h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["status"] != "ok" || body["mode"] != tt.mode {
			t.Errorf("body = %v, want mode %s", body, tt.mode)
		}
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	h := newTestHandler(t, "true")
	router := h.Router()

	// 未认证请求也会被计数
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/simulations/abc123", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	srv := httptest.NewServer(router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	want := `livret_http_requests_total{method="GET",path="/api/v1/simulations/{id}",status="401"} 1`
	if !strings.Contains(string(data), want) {
		t.Errorf("metrics missing %s", want)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, "true")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/simulations/start", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/simulations/start", "/api/v1/simulations/start"},
		{"/api/v1/simulations/sandbox/status", "/api/v1/simulations/sandbox/status"},
		{"/api/v1/simulations/3f2c9a", "/api/v1/simulations/{id}"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
