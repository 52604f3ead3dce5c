package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer upstream.Close()

	cfg := relayConfig(upstream.URL)
	cfg.Server.Mounts = []string{"/xhttp", "/tunnel"}

	proxy, m := newTestHandler(t, cfg)
	health := NewHealthHandler(cfg, "test", nil)

	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, health)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK, ""},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK, ""},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK, ""},
		{"GET mount root", http.MethodGet, "/xhttp", http.StatusOK, "/xhttp"},
		{"GET under mount", http.MethodGet, "/xhttp/abc?x=1", http.StatusOK, "/xhttp/abc"},
		{"POST under mount", http.MethodPost, "/xhttp/abc", http.StatusOK, "/xhttp/abc"},
		{"PUT second mount", http.MethodPut, "/tunnel/s/1", http.StatusOK, "/tunnel/s/1"},
		{"GET unknown", http.MethodGet, "/unknown", http.StatusNotFound, ""},
		{"GET mount lookalike", http.MethodGet, "/xhttpx", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRegisterRoutes_SecurityHeadersOwnRoutesOnly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := relayConfig(upstream.URL)
	proxy, m := newTestHandler(t, cfg)

	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, NewHealthHandler(cfg, "test", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if v := rec.Header().Get("X-Content-Type-Options"); v != "nosniff" {
		t.Errorf("/healthz X-Content-Type-Options = %q, want nosniff", v)
	}
	if v := rec.Header().Get(echo.HeaderXRequestID); v == "" {
		t.Error("/healthz missing X-Request-Id")
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relayed", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("relayed status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("X-Frame-Options"); v != "" {
		t.Errorf("relayed response gained X-Frame-Options = %q", v)
	}
	if v := rec.Header().Get(echo.HeaderXRequestID); v != "" {
		t.Errorf("relayed response gained X-Request-Id = %q", v)
	}
}

func TestRegisterRoutes_MetricsDisabled(t *testing.T) {
	cfg := relayConfig("http://127.0.0.1:1")
	cfg.Server.Mounts = []string{"/xhttp"}
	cfg.Metrics.Enabled = false

	proxy, m := newTestHandler(t, cfg)
	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, NewHealthHandler(cfg, "test", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegisterRoutes_MetricsExposition(t *testing.T) {
	cfg := relayConfig("http://127.0.0.1:1")
	cfg.Server.Mounts = []string{"/xhttp"}

	proxy, m := newTestHandler(t, cfg)
	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, NewHealthHandler(cfg, "test", nil))

	// A failed relay shows up in the exposition.
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/xhttp/a", http.NoBody))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), `xhttp_relay_failures_total{kind="upstream_unreachable"} 1`) {
		t.Errorf("metrics exposition missing failure counter:\n%s", rec.Body.String())
	}
}
