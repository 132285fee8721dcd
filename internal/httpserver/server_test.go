package httpserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/kprobe/internal/checks"
	"github.com/keithlinneman/kprobe/internal/log"
	"github.com/keithlinneman/kprobe/internal/metrics"
	"github.com/keithlinneman/kprobe/internal/probehttp"
	"github.com/keithlinneman/kprobe/internal/ratelimit"
	"github.com/keithlinneman/kprobe/internal/readiness"
)

func newInterceptor(t *testing.T, gate *checks.Gate) *probehttp.Interceptor {
	t.Helper()
	ev, err := readiness.NewEvaluator([]readiness.Check{gate, checks.Fixed(true, "")})
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	ic, err := probehttp.NewInterceptor(ev, probehttp.DefaultPaths())
	if err != nil {
		t.Fatalf("NewInterceptor: %v", err)
	}
	return ic
}

func hostRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "home")
	})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	r.Get("/readyz/extra", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "app route")
	})
}

func defaultOpts(t *testing.T) (*Options, *checks.Gate) {
	gate := &checks.Gate{}
	return &Options{
		Logger:       log.Nop(),
		Interceptor:  newInterceptor(t, gate),
		Routes:       hostRoutes,
		UseRecoverMW: true,
	}, gate
}

func doRequest(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

// NewHandler

func TestNewHandler_ProbePaths(t *testing.T) {
	opts, gate := defaultOpts(t)
	h := NewHandler(opts)

	for _, p := range []string{"/healthz", "/livez", "/readyz"} {
		rec := doRequest(h, http.MethodGet, p)
		if rec.Code != http.StatusOK || rec.Body.String() != "Ok" {
			t.Fatalf("GET %s = %d %q, want 200 Ok", p, rec.Code, rec.Body.String())
		}
	}

	gate.Set("shutting down")
	rec := doRequest(h, http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "shutting down" {
		t.Fatalf("GET /readyz = %d %q, want 503 shutting down", rec.Code, rec.Body.String())
	}
	if rec := doRequest(h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("liveness should ignore the gate, got %d", rec.Code)
	}
}

func TestNewHandler_NonProbePassesThrough(t *testing.T) {
	opts, _ := defaultOpts(t)
	h := NewHandler(opts)

	if rec := doRequest(h, http.MethodGet, "/"); rec.Body.String() != "home" {
		t.Fatalf("GET / body = %q, want home", rec.Body.String())
	}
	if rec := doRequest(h, http.MethodGet, "/readyz/extra"); rec.Body.String() != "app route" {
		t.Fatalf("prefix of a probe path must not be intercepted, body = %q", rec.Body.String())
	}
	// non-GET on a probe path reaches the router
	if rec := doRequest(h, http.MethodPost, "/readyz"); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /readyz = %d, want router response", rec.Code)
	}
}

func TestNewHandler_SecurityHeadersOnProbe(t *testing.T) {
	opts, _ := defaultOpts(t)
	rec := doRequest(NewHandler(opts), http.MethodGet, "/readyz")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing on probe response")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatal("probe response should not be cached")
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	opts, _ := defaultOpts(t)
	h := NewHandler(opts)

	a := doRequest(h, http.MethodGet, "/").Header().Get("X-Request-Id")
	b := doRequest(h, http.MethodGet, "/").Header().Get("X-Request-Id")
	if a == "" || a == b {
		t.Fatalf("request ids %q and %q should be set and unique", a, b)
	}
}

func TestNewHandler_RecoverCallsOnPanic(t *testing.T) {
	opts, _ := defaultOpts(t)
	var panics int
	opts.OnPanic = func() { panics++ }

	rec := doRequest(NewHandler(opts), http.MethodGet, "/boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d, want 1", panics)
	}
}

func TestNewHandler_MetricsLabelProbeRoutes(t *testing.T) {
	opts, _ := defaultOpts(t)
	m := metrics.New()
	ic := opts.Interceptor
	opts.MetricsMW = m.Middleware(func(r *http.Request) string {
		if ic.Matches(r) {
			return r.URL.Path
		}
		return ""
	})
	h := NewHandler(opts)
	doRequest(h, http.MethodGet, "/readyz")
	doRequest(h, http.MethodGet, "/")
	doRequest(h, http.MethodGet, "/nope/123")

	rec := doRequest(m.Handler(), http.MethodGet, "/metrics")
	body := rec.Body.String()
	for _, want := range []string{`route="/readyz"`, `route="/"`, `route="unmatched"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
	if strings.Contains(body, "/nope/123") {
		t.Fatal("raw path leaked into route label")
	}
}

func TestNewHandler_RateLimitSkipsProbes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts, _ := defaultOpts(t)
	opts.RateLimitMW = ratelimit.New(ctx, ratelimit.WithRate(0.001, 1)).Middleware
	h := NewHandler(opts)

	if rec := doRequest(h, http.MethodGet, "/"); rec.Code != http.StatusOK {
		t.Fatalf("first GET / = %d, want 200", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second GET / = %d, want 429", rec.Code)
	}
	for range 5 {
		if rec := doRequest(h, http.MethodGet, "/readyz"); rec.Code != http.StatusOK {
			t.Fatalf("GET /readyz = %d, probes must bypass the limiter", rec.Code)
		}
	}
}

func TestNewHandler_NoInterceptor(t *testing.T) {
	h := NewHandler(&Options{Routes: hostRoutes})
	if rec := doRequest(h, http.MethodGet, "/readyz"); rec.Code != http.StatusNotFound {
		t.Fatalf("without interceptor /readyz = %d, want 404", rec.Code)
	}
}

func TestNewHandler_CompressesText(t *testing.T) {
	opts, _ := defaultOpts(t)
	opts.Routes = func(r chi.Router) {
		r.Get("/big", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, strings.Repeat("kprobe ", 500))
		})
	}
	req := httptest.NewRequest(http.MethodGet, "/big", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	NewHandler(opts).ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}
}

// NewServer

func TestNewServer_Configuration(t *testing.T) {
	srv := NewServer(":8080", http.NotFoundHandler())
	if srv.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", srv.Addr)
	}
	if srv.ReadHeaderTimeout != 5*time.Second || srv.ReadTimeout != 10*time.Second ||
		srv.WriteTimeout != 10*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Fatalf("timeouts = %v/%v/%v/%v", srv.ReadHeaderTimeout, srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout)
	}
	if srv.MaxHeaderBytes != 1<<20 {
		t.Fatalf("MaxHeaderBytes = %d, want %d", srv.MaxHeaderBytes, 1<<20)
	}
}

// Start

func TestStart_ServesAndStops(t *testing.T) {
	opts, _ := defaultOpts(t)
	opts.Addr = "127.0.0.1:0"

	ctx := context.Background()
	run, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://%s/readyz", run.Addr)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "Ok" {
		t.Fatalf("GET /readyz = %d %q", resp.StatusCode, body)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := run.Stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := run.Stop(sctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_PortConflict(t *testing.T) {
	opts, _ := defaultOpts(t)
	opts.Addr = "127.0.0.1:0"
	ctx := context.Background()

	first, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop(ctx)

	opts.Addr = first.Addr.String()
	if _, err := Start(ctx, opts); err == nil {
		t.Fatal("expected error for port conflict")
	}
}
